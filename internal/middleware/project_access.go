package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/pkg/response"
)

const ContextProjectID = "project_id"

// ProjectID extracts the project ID resolved by the access middleware.
func ProjectID(c *gin.Context) uint {
	if id, exists := c.Get(ContextProjectID); exists {
		return id.(uint)
	}
	return 0
}

func parseProjectID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid project id")
		c.Abort()
		return 0, false
	}
	return uint(id), true
}

// apiKeyGrant returns the role an API key grants for the project, if the
// request authenticated with one scoped to it.
func apiKeyGrant(c *gin.Context, projectID uint) (models.Role, bool) {
	v, exists := c.Get(ContextApiKey)
	if !exists {
		return "", false
	}
	key, ok := v.(*models.ApiKey)
	if !ok || key.ProjectID != projectID {
		return "", false
	}
	return key.Role, true
}

// ProjectRole gates a route on a minimum membership role in the project
// named by the :id path parameter. It also stamps last-access bookkeeping
// for the member.
func ProjectRole(members *services.MemberService, required models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, ok := parseProjectID(c)
		if !ok {
			return
		}
		c.Set(ContextProjectID, projectID)

		if role, viaKey := apiKeyGrant(c, projectID); viaKey {
			if !role.HasRank(required) {
				response.Forbidden(c, "API key role is insufficient")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		userID := GetUserID(c)
		ok, err := members.HasRole(projectID, userID, required)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !ok {
			response.Forbidden(c, "insufficient project role")
			c.Abort()
			return
		}

		members.TouchAccess(projectID, userID)
		c.Next()
	}
}

// ProjectPermission gates a route on fine-grained permissions; holding
// any one of them is enough. Admins pass implicitly.
func ProjectPermission(members *services.MemberService, perms ...models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID, ok := parseProjectID(c)
		if !ok {
			return
		}
		c.Set(ContextProjectID, projectID)

		if role, viaKey := apiKeyGrant(c, projectID); viaKey {
			if role != models.RoleAdmin && !role.DefaultPermissions().ContainsAny(perms) {
				response.Forbidden(c, "API key lacks the required permission")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		userID := GetUserID(c)
		ok, err := members.HasPermission(projectID, userID, perms...)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !ok {
			response.Forbidden(c, "missing required permission")
			c.Abort()
			return
		}

		members.TouchAccess(projectID, userID)
		c.Next()
	}
}
