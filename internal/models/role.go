package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Role is the closed set of project roles. Standard roles form a total
// order (viewer < user < editor < admin) used for "at least this
// privileged" checks; RoleCustom sits outside the order and carries an
// explicit permission list on the membership row.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleCustom Role = "custom"
)

var roleRanks = map[Role]int{
	RoleViewer: 0,
	RoleUser:   1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// Rank returns the role's position in the privilege order. RoleCustom has
// no rank; ok is false for it and for unknown values.
func (r Role) Rank() (rank int, ok bool) {
	rank, ok = roleRanks[r]
	return rank, ok
}

// HasRank reports whether r sits at or above required in the privilege
// order. Custom roles have no rank and never satisfy a rank check.
func (r Role) HasRank(required Role) bool {
	have, ok := r.Rank()
	if !ok {
		return false
	}
	want, ok := required.Rank()
	if !ok {
		return false
	}
	return have >= want
}

// Valid reports whether r is one of the closed role set.
func (r Role) Valid() bool {
	if r == RoleCustom {
		return true
	}
	_, ok := roleRanks[r]
	return ok
}

// ParseRole converts a wire string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Permission is a fine-grained project capability. Admins implicitly hold
// every permission regardless of any stored list.
type Permission string

const (
	PermProjectRead     Permission = "project:read"
	PermProjectWrite    Permission = "project:write"
	PermProjectDelete   Permission = "project:delete"
	PermMembersRead     Permission = "members:read"
	PermMembersManage   Permission = "members:manage"
	PermDatabasesRead   Permission = "databases:read"
	PermDatabasesManage Permission = "databases:manage"
	PermQueriesExecute  Permission = "queries:execute"
	PermHistoryRead     Permission = "history:read"
)

// rolePermissions is the static role → permission table for standard
// roles. Custom memberships ignore this table entirely.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermProjectRead,
		PermMembersRead,
		PermDatabasesRead,
		PermHistoryRead,
	},
	RoleUser: {
		PermProjectRead,
		PermMembersRead,
		PermDatabasesRead,
		PermQueriesExecute,
		PermHistoryRead,
	},
	RoleEditor: {
		PermProjectRead,
		PermProjectWrite,
		PermMembersRead,
		PermDatabasesRead,
		PermDatabasesManage,
		PermQueriesExecute,
		PermHistoryRead,
	},
	RoleAdmin: {
		PermProjectRead,
		PermProjectWrite,
		PermProjectDelete,
		PermMembersRead,
		PermMembersManage,
		PermDatabasesRead,
		PermDatabasesManage,
		PermQueriesExecute,
		PermHistoryRead,
	},
}

// DefaultPermissions returns the permission set a standard role grants.
// The returned slice is a copy.
func (r Role) DefaultPermissions() PermissionList {
	perms := rolePermissions[r]
	out := make(PermissionList, len(perms))
	copy(out, perms)
	return out
}

// PermissionList is a JSON-encoded permission array stored in a text
// column.
type PermissionList []Permission

func (p PermissionList) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PermissionList) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("unsupported type for PermissionList")
	}
}

// Contains reports whether the list holds the given permission.
func (p PermissionList) Contains(perm Permission) bool {
	for _, v := range p {
		if v == perm {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every permission in perms is present.
func (p PermissionList) ContainsAll(perms []Permission) bool {
	for _, v := range perms {
		if !p.Contains(v) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether at least one permission in perms is present.
func (p PermissionList) ContainsAny(perms []Permission) bool {
	for _, v := range perms {
		if p.Contains(v) {
			return true
		}
	}
	return false
}
