package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/internal/utils"
	"github.com/querydeck/backend/pkg/response"
)

const (
	ContextUserID     = "user_id"
	ContextEmail      = "email"
	ContextApiKey     = "api_key"
	ContextApiKeyRole = "api_key_role"
)

// AuthRequired checks for a valid JWT bearer token.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)

		c.Next()
	}
}

// ApiKeyOrAuthRequired accepts either an X-API-Key header or a JWT bearer
// token. API keys carry a project-scoped role instead of a user identity.
func ApiKeyOrAuthRequired(apiKeys *services.ApiKeyService) gin.HandlerFunc {
	jwtAuth := AuthRequired()
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			jwtAuth(c)
			return
		}

		record, err := apiKeys.Lookup(key)
		if err != nil {
			response.Unauthorized(c, "invalid API key")
			c.Abort()
			return
		}

		c.Set(ContextApiKey, record)
		c.Set(ContextUserID, record.CreatedBy)
		c.Set(ContextApiKeyRole, string(record.Role))

		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetEmail gets the current user email from context
func GetEmail(c *gin.Context) string {
	if email, exists := c.Get(ContextEmail); exists {
		return email.(string)
	}
	return ""
}
