package models

import "time"

// ProjectMember represents a user's membership and role within a project.
// There is exactly one row per (project, user); removal flips IsActive off
// and re-adding reactivates the same row, so history stays queryable.
type ProjectMember struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProjectID      uint           `gorm:"uniqueIndex:idx_project_user;not null" json:"project_id"`
	Project        *Project       `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	UserID         uint           `gorm:"uniqueIndex:idx_project_user;not null" json:"user_id"`
	User           *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role           Role           `gorm:"size:50;default:viewer" json:"role"`
	Permissions    PermissionList `gorm:"type:text" json:"permissions"` // only meaningful for custom role
	IsActive       bool           `gorm:"default:true;index" json:"is_active"`
	InvitedBy      *uint          `json:"invited_by,omitempty"`
	InvitedAt      *time.Time     `json:"invited_at,omitempty"`
	JoinedAt       *time.Time     `json:"joined_at,omitempty"`
	LastAccessedAt *time.Time     `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (ProjectMember) TableName() string { return "project_members" }

// EffectivePermissions returns the stored list for custom memberships and
// the static role table for standard ones.
func (m *ProjectMember) EffectivePermissions() PermissionList {
	if m.Role == RoleCustom {
		return m.Permissions
	}
	return m.Role.DefaultPermissions()
}

// HasRole reports whether the membership satisfies "at least required".
// Custom memberships have no rank; they qualify when their permission set
// covers everything the required role would grant.
func (m *ProjectMember) HasRole(required Role) bool {
	requiredRank, ok := required.Rank()
	if !ok {
		return false
	}
	if m.Role == RoleCustom {
		return m.Permissions.ContainsAll(required.DefaultPermissions())
	}
	rank, ok := m.Role.Rank()
	if !ok {
		return false
	}
	return rank >= requiredRank
}

// HasPermission reports whether the membership grants at least one of the
// requested permissions. Admin short-circuits to true.
func (m *ProjectMember) HasPermission(perms ...Permission) bool {
	if m.Role == RoleAdmin {
		return true
	}
	return m.EffectivePermissions().ContainsAny(perms)
}
