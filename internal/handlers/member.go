package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/middleware"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

type MemberHandler struct {
	memberService *services.MemberService
}

func NewMemberHandler(db *gorm.DB) *MemberHandler {
	return &MemberHandler{memberService: services.NewMemberService(db)}
}

// List returns the members of a project
// GET /api/projects/:id/members
func (h *MemberHandler) List(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"

	members, err := h.memberService.ListMembers(middleware.ProjectID(c), includeInactive)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, members)
}

// Add attaches a user to a project with a role
// POST /api/projects/:id/members
func (h *MemberHandler) Add(c *gin.Context) {
	var req services.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.memberService.AddMember(middleware.ProjectID(c), &req, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, member)
}

type updateRoleRequest struct {
	Role        string   `json:"role" binding:"required"`
	Permissions []string `json:"permissions"`
}

// UpdateRole changes a member's role or custom permission set
// PUT /api/projects/:id/members/:user_id
func (h *MemberHandler) UpdateRole(c *gin.Context) {
	userID, ok := memberUserID(c)
	if !ok {
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.memberService.UpdateRole(middleware.ProjectID(c), userID, req.Role, req.Permissions)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, member)
}

// Remove deactivates a member
// DELETE /api/projects/:id/members/:user_id
func (h *MemberHandler) Remove(c *gin.Context) {
	userID, ok := memberUserID(c)
	if !ok {
		return
	}

	if userID == middleware.GetUserID(c) {
		response.Forbidden(c, "cannot remove yourself from a project")
		return
	}

	if err := h.memberService.RemoveMember(middleware.ProjectID(c), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

func memberUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user ID")
		return 0, false
	}
	return uint(id), true
}
