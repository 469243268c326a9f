package authz

import "time"

// Role owns a set of global permission grants.
type Role struct {
	ID          string       `json:"id"`
	Slug        string       `json:"slug"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsSystem    bool         `json:"is_system"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission grants a role a set of actions on every instance of a resource type.
type Permission struct {
	ID           string       `json:"id"`
	RoleID       string       `json:"role_id"`
	ResourceType ResourceType `json:"resource_type"`
	Actions      ActionSet    `json:"actions"`
}

// UserGroup is a named set of users. Members inherit the group's roles and permissions.
type UserGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupPermission grants every member of a group a set of actions on a resource type.
type GroupPermission struct {
	ID           string       `json:"id"`
	GroupID      string       `json:"group_id"`
	ResourceType ResourceType `json:"resource_type"`
	Actions      ActionSet    `json:"actions"`
}

// UserPermission is a direct per-user grant, independent of roles and groups.
type UserPermission struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	ResourceType ResourceType `json:"resource_type"`
	Actions      ActionSet    `json:"actions"`
	GrantedByID  string       `json:"granted_by_id,omitempty"`
}

// ResourceAccess is an ACL entry scoped to one resource instance.
type ResourceAccess struct {
	ID           string       `json:"id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	UserID       string       `json:"user_id"`
	Actions      ActionSet    `json:"actions"`
	GrantedByID  string       `json:"granted_by_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// PermissionGrant is the input shape for replacing a set of global grants.
type PermissionGrant struct {
	ResourceType ResourceType `json:"resource_type" binding:"required"`
	Actions      ActionSet    `json:"actions" binding:"required"`
}

// EffectiveRoles is the union of direct and group-inherited roles for a user.
type EffectiveRoles struct {
	RoleIDs   []string `json:"role_ids"`
	RoleSlugs []string `json:"role_slugs"`
	GroupIDs  []string `json:"group_ids"`
}

// HasSlug reports whether slug is among the effective role slugs.
func (r EffectiveRoles) HasSlug(slug string) bool {
	for _, s := range r.RoleSlugs {
		if s == slug {
			return true
		}
	}
	return false
}

// EffectivePermissions is a read-only snapshot for capability display.
// Enforcement always goes through Can and AccessibleResourceIDs.
type EffectivePermissions struct {
	UserID         string                     `json:"user_id"`
	Roles          []string                   `json:"roles"`
	IsAdmin        bool                       `json:"is_admin"`
	Permissions    map[ResourceType]ActionSet `json:"permissions"`
	ResourceAccess []ResourceAccess           `json:"resource_access"`
}

// AccessibleSet is either every instance of a resource type (All) or an explicit id list.
// An explicit list must be OR-ed with the caller's own creator filter.
type AccessibleSet struct {
	All bool     `json:"all"`
	IDs []string `json:"ids"`
}

// Contains reports whether id is covered by the set.
func (s AccessibleSet) Contains(id string) bool {
	if s.All {
		return true
	}
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// Instance identifies a resource instance together with its creator for batch checks.
type Instance struct {
	ID          string
	CreatedByID string
}
