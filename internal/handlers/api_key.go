package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/middleware"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

type ApiKeyHandler struct {
	apiKeyService *services.ApiKeyService
}

func NewApiKeyHandler(db *gorm.DB) *ApiKeyHandler {
	return &ApiKeyHandler{apiKeyService: services.NewApiKeyService(db)}
}

// List returns the project's API keys, hashes omitted
// GET /api/projects/:id/keys
func (h *ApiKeyHandler) List(c *gin.Context) {
	keys, err := h.apiKeyService.List(middleware.ProjectID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, keys)
}

// Create issues a new API key. The plaintext key appears in this
// response only.
// POST /api/projects/:id/keys
func (h *ApiKeyHandler) Create(c *gin.Context) {
	var req services.CreateApiKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.apiKeyService.Create(middleware.ProjectID(c), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// Revoke deactivates an API key
// DELETE /api/projects/:id/keys/:key_id
func (h *ApiKeyHandler) Revoke(c *gin.Context) {
	keyID, err := strconv.ParseUint(c.Param("key_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid key ID")
		return
	}

	if err := h.apiKeyService.Revoke(middleware.ProjectID(c), uint(keyID)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}
