package services

import (
	"errors"
	"net/http"
	"time"

	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

// Membership invariant errors.
var (
	ErrAlreadyMember      = response.NewKind(http.StatusConflict, response.KindAlreadyMember, "user is already an active member of this project")
	ErrMemberNotFound     = response.NewKind(http.StatusNotFound, response.KindMemberNotFound, "membership not found")
	ErrLastAdminViolation = response.NewKind(http.StatusConflict, response.KindLastAdminViolation, "project must retain at least one active admin")
)

// MemberService owns the membership lifecycle and enforces the last-admin
// invariant on every mutation.
type MemberService struct {
	db *gorm.DB
}

func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

type AddMemberRequest struct {
	UserID      uint     `json:"user_id" binding:"required"`
	Role        string   `json:"role" binding:"required"`
	Permissions []string `json:"permissions"`
}

func toPermissionList(perms []string) models.PermissionList {
	out := make(models.PermissionList, 0, len(perms))
	for _, p := range perms {
		out = append(out, models.Permission(p))
	}
	return out
}

// AddMember inserts a new membership row or reactivates a soft-removed
// one. An existing active row fails with already_member. Reactivation
// reuses the row: joined_at and last_accessed_at reset to null and the
// invitation fields are stamped fresh.
func (s *MemberService) AddMember(projectID uint, req *AddMemberRequest, actedBy uint) (*models.ProjectMember, error) {
	role, err := models.ParseRole(req.Role)
	if err != nil {
		return nil, response.NewBadRequest(err.Error())
	}

	var perms models.PermissionList
	if role == models.RoleCustom {
		perms = toPermissionList(req.Permissions)
	}

	var user models.User
	if err := s.db.First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("user not found")
		}
		return nil, err
	}

	now := time.Now()
	var member models.ProjectMember

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.ProjectMember
		err := tx.Where("project_id = ? AND user_id = ?", projectID, req.UserID).First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive {
				return ErrAlreadyMember
			}
			// Reactivate the soft-removed row instead of inserting a
			// duplicate.
			existing.Role = role
			existing.Permissions = perms
			existing.IsActive = true
			existing.InvitedBy = &actedBy
			existing.InvitedAt = &now
			existing.JoinedAt = nil
			existing.LastAccessedAt = nil
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			member = existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			member = models.ProjectMember{
				ProjectID:   projectID,
				UserID:      req.UserID,
				Role:        role,
				Permissions: perms,
				IsActive:    true,
				InvitedBy:   &actedBy,
				InvitedAt:   &now,
			}
			return tx.Create(&member).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	return &member, nil
}

// RemoveMember soft-deactivates a membership row; the row itself stays so
// history remains queryable. Removing the sole active admin fails with
// last_admin_violation. The admin-count check runs as a conditional
// update with a row-count guard: the subquery is evaluated by the engine
// at write time, so two racing removals cannot both slip past a stale
// count.
func (s *MemberService) RemoveMember(projectID, userID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var member models.ProjectMember
		err := tx.Where("project_id = ? AND user_id = ? AND is_active = ?", projectID, userID, true).
			First(&member).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}

		updates := map[string]interface{}{"is_active": false, "updated_at": time.Now()}

		if member.Role != models.RoleAdmin {
			return tx.Model(&models.ProjectMember{}).Where("id = ?", member.ID).Updates(updates).Error
		}

		res := tx.Model(&models.ProjectMember{}).
			Where("id = ? AND (SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = ? AND pm.role = ? AND pm.is_active = ?) > 1",
				member.ID, projectID, models.RoleAdmin, true).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLastAdminViolation
		}
		return nil
	})
}

// UpdateRole changes a member's role. Downgrading the sole active admin
// fails with last_admin_violation, checked with the same write-time guard
// as RemoveMember. For custom, the explicit permission list replaces the
// role-derived set; for standard roles any supplied list is ignored.
func (s *MemberService) UpdateRole(projectID, userID uint, newRole string, customPermissions []string) (*models.ProjectMember, error) {
	role, err := models.ParseRole(newRole)
	if err != nil {
		return nil, response.NewBadRequest(err.Error())
	}

	var perms models.PermissionList
	if role == models.RoleCustom {
		perms = toPermissionList(customPermissions)
	}

	var member models.ProjectMember
	err = s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("project_id = ? AND user_id = ? AND is_active = ?", projectID, userID, true).
			First(&member).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"role":        role,
			"permissions": perms,
			"updated_at":  time.Now(),
		}

		if member.Role == models.RoleAdmin && role != models.RoleAdmin {
			res := tx.Model(&models.ProjectMember{}).
				Where("id = ? AND (SELECT COUNT(*) FROM project_members pm WHERE pm.project_id = ? AND pm.role = ? AND pm.is_active = ?) > 1",
					member.ID, projectID, models.RoleAdmin, true).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrLastAdminViolation
			}
		} else {
			if err := tx.Model(&models.ProjectMember{}).Where("id = ?", member.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		member.Role = role
		member.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &member, nil
}

// GetMember returns the active membership row for (project, user).
func (s *MemberService) GetMember(projectID, userID uint) (*models.ProjectMember, error) {
	var member models.ProjectMember
	err := s.db.Where("project_id = ? AND user_id = ? AND is_active = ?", projectID, userID, true).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// HasRole reports whether the user holds at least the required role on
// the project. Missing membership is simply false.
func (s *MemberService) HasRole(projectID, userID uint, required models.Role) (bool, error) {
	member, err := s.GetMember(projectID, userID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return false, nil
		}
		return false, err
	}
	return member.HasRole(required), nil
}

// HasPermission reports whether the user holds any of the requested
// permissions on the project (OR semantics). Admin short-circuits.
func (s *MemberService) HasPermission(projectID, userID uint, perms ...models.Permission) (bool, error) {
	member, err := s.GetMember(projectID, userID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return false, nil
		}
		return false, err
	}
	return member.HasPermission(perms...), nil
}

// ListMembers returns all membership rows for a project, active first.
func (s *MemberService) ListMembers(projectID uint, includeInactive bool) ([]models.ProjectMember, error) {
	query := s.db.Preload("User").Where("project_id = ?", projectID)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var members []models.ProjectMember
	if err := query.Order("is_active DESC, id ASC").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// TouchAccess stamps last_accessed_at, and joined_at on first access
// (invited → active transition).
func (s *MemberService) TouchAccess(projectID, userID uint) {
	now := time.Now()
	updates := map[string]interface{}{"last_accessed_at": now}
	s.db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ? AND is_active = ? AND joined_at IS NULL", projectID, userID, true).
		Update("joined_at", now)
	s.db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ? AND is_active = ?", projectID, userID, true).
		Updates(updates)
}

// ActiveAdminCount returns the number of active admin memberships on a
// project.
func (s *MemberService) ActiveAdminCount(projectID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND role = ? AND is_active = ?", projectID, models.RoleAdmin, true).
		Count(&count).Error
	return count, err
}
