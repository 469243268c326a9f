package authz

import "context"

// RoleStore handles roles, their permission rows and direct user assignments.
// This is purely a data access layer - no authorization logic.
type RoleStore interface {
	// CreateRole creates a new role
	CreateRole(ctx context.Context, role *Role) error

	// GetRole retrieves a role by ID
	GetRole(ctx context.Context, id string) (*Role, error)

	// ListRoles returns all roles ordered by name
	ListRoles(ctx context.Context) ([]Role, error)

	// DeleteRole deletes a role (cascades to permissions and assignments)
	DeleteRole(ctx context.Context, id string) error

	// ExistingRoleIDs returns the subset of ids that refer to existing roles
	ExistingRoleIDs(ctx context.Context, ids []string) ([]string, error)

	// ListUserRoles returns roles assigned directly to a user
	ListUserRoles(ctx context.Context, userID string) ([]Role, error)

	// ListGroupRoles returns roles assigned to any of the given groups
	ListGroupRoles(ctx context.Context, groupIDs []string) ([]Role, error)

	// ListRolePermissions returns the permission rows of any of the given roles
	ListRolePermissions(ctx context.Context, roleIDs []string) ([]Permission, error)

	// ReplaceRolePermissions atomically replaces every permission row of a role
	ReplaceRolePermissions(ctx context.Context, roleID string, grants []PermissionGrant) error

	// ReplaceUserRoles atomically replaces the direct role assignments of a user
	ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error
}

// GroupStore handles user groups, membership and group-level grants.
type GroupStore interface {
	// CreateGroup creates a new group
	CreateGroup(ctx context.Context, group *UserGroup) error

	// GetGroup retrieves a group by ID
	GetGroup(ctx context.Context, id string) (*UserGroup, error)

	// ListGroups returns all groups ordered by name
	ListGroups(ctx context.Context) ([]UserGroup, error)

	// DeleteGroup deletes a group (cascades to members, roles and permissions)
	DeleteGroup(ctx context.Context, id string) error

	// ExistingGroupIDs returns the subset of ids that refer to existing groups
	ExistingGroupIDs(ctx context.Context, ids []string) ([]string, error)

	// ListUserGroupIDs returns the ids of every group a user belongs to
	ListUserGroupIDs(ctx context.Context, userID string) ([]string, error)

	// ListGroupMembers returns the user ids of a group's members
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// ListGroupPermissions returns the direct grants of any of the given groups
	ListGroupPermissions(ctx context.Context, groupIDs []string) ([]GroupPermission, error)

	// ReplaceGroupMembers atomically replaces the members of a group
	ReplaceGroupMembers(ctx context.Context, groupID string, userIDs []string) error

	// ReplaceUserGroups atomically replaces every group membership of a user
	ReplaceUserGroups(ctx context.Context, userID string, groupIDs []string) error

	// ReplaceGroupRoles atomically replaces the roles assigned to a group
	ReplaceGroupRoles(ctx context.Context, groupID string, roleIDs []string) error

	// ReplaceGroupPermissions atomically replaces the direct grants of a group
	ReplaceGroupPermissions(ctx context.Context, groupID string, grants []PermissionGrant) error
}

// UserPermissionStore handles direct per-user grants.
type UserPermissionStore interface {
	// ListUserPermissions returns the direct grants of a user
	ListUserPermissions(ctx context.Context, userID string) ([]UserPermission, error)

	// ReplaceUserPermissions atomically replaces the direct grants of a user
	ReplaceUserPermissions(ctx context.Context, userID, grantedByID string, grants []PermissionGrant) error
}

// ResourceAccessStore handles instance-level ACL entries.
type ResourceAccessStore interface {
	// GetResourceAccess returns the entry for (type, instance, user) or ErrNotFound
	GetResourceAccess(ctx context.Context, resourceType ResourceType, resourceID, userID string) (*ResourceAccess, error)

	// ListUserResourceAccess returns a user's entries; an empty resourceType means every type
	ListUserResourceAccess(ctx context.Context, userID string, resourceType ResourceType) ([]ResourceAccess, error)

	// ListUserResourceAccessByIDs returns a user's entries for the given instances of one type
	ListUserResourceAccessByIDs(ctx context.Context, userID string, resourceType ResourceType, resourceIDs []string) ([]ResourceAccess, error)

	// ListResourceAccess returns every entry on one instance
	ListResourceAccess(ctx context.Context, resourceType ResourceType, resourceID string) ([]ResourceAccess, error)

	// UpsertResourceAccess creates the entry or replaces its actions and grantor, atomically
	UpsertResourceAccess(ctx context.Context, access *ResourceAccess) error

	// UpdateResourceAccess replaces actions and grantor of an existing entry or returns ErrNotFound
	UpdateResourceAccess(ctx context.Context, access *ResourceAccess) error

	// DeleteResourceAccess removes an entry or returns ErrNotFound
	DeleteResourceAccess(ctx context.Context, resourceType ResourceType, resourceID, userID string) error
}

// Stores bundles every store the engine and services depend on.
type Stores struct {
	Roles           RoleStore
	Groups          GroupStore
	UserPermissions UserPermissionStore
	Access          ResourceAccessStore
}
