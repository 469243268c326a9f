package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ============================================================================
// Shared SQL helpers
// ============================================================================

// withTx runs fn inside a transaction; any error rolls the whole unit back.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Will be ignored if tx.Commit() succeeds

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func scanActionSet(values pq.StringArray) (ActionSet, error) {
	set, err := ParseActionSet(values)
	if err != nil {
		return 0, fmt.Errorf("failed to decode stored actions: %w", err)
	}
	return set, nil
}

func scanResourceType(value string) (ResourceType, error) {
	rt, err := ParseResourceType(value)
	if err != nil {
		return "", fmt.Errorf("failed to decode stored resource type: %w", err)
	}
	return rt, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ============================================================================
// SimpleRoleStore - SQL implementation of RoleStore
// ============================================================================

// SimpleRoleStore implements RoleStore using SQL
type SimpleRoleStore struct {
	db *sql.DB
}

// NewSimpleRoleStore creates a new SimpleRoleStore
func NewSimpleRoleStore(db *sql.DB) *SimpleRoleStore {
	return &SimpleRoleStore{db: db}
}

// Ensure SimpleRoleStore implements RoleStore
var _ RoleStore = (*SimpleRoleStore)(nil)

// CreateRole creates a new role
func (r *SimpleRoleStore) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, slug, name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, role.ID, role.Slug, role.Name, role.Description, role.IsSystem, role.CreatedAt, role.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: role slug %q", ErrAlreadyExists, role.Slug)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (r *SimpleRoleStore) GetRole(ctx context.Context, id string) (*Role, error) {
	var role Role
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, COALESCE(description, ''), is_system, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, id).Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles returns all roles
func (r *SimpleRoleStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, slug, name, COALESCE(description, ''), is_system, created_at, updated_at
		FROM roles
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// DeleteRole deletes a role
func (r *SimpleRoleStore) DeleteRole(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistingRoleIDs returns the ids that exist in the roles table
func (r *SimpleRoleStore) ExistingRoleIDs(ctx context.Context, ids []string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM roles WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to check roles: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListUserRoles returns roles assigned directly to a user
func (r *SimpleRoleStore) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.slug, r.name, COALESCE(r.description, ''), r.is_system, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// ListGroupRoles returns roles assigned to any of the given groups
func (r *SimpleRoleStore) ListGroupRoles(ctx context.Context, groupIDs []string) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT r.id, r.slug, r.name, COALESCE(r.description, ''), r.is_system, r.created_at, r.updated_at
		FROM roles r
		JOIN group_roles gr ON gr.role_id = r.id
		WHERE gr.group_id = ANY($1)
	`, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list group roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// ListRolePermissions returns the permission rows of the given roles
func (r *SimpleRoleStore) ListRolePermissions(ctx context.Context, roleIDs []string) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, role_id, resource_type, actions
		FROM permissions
		WHERE role_id = ANY($1)
	`, pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		var rt string
		var actions pq.StringArray
		if err := rows.Scan(&p.ID, &p.RoleID, &rt, &actions); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if p.ResourceType, err = scanResourceType(rt); err != nil {
			return nil, err
		}
		if p.Actions, err = scanActionSet(actions); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReplaceRolePermissions deletes every permission row of a role and inserts grants
func (r *SimpleRoleStore) ReplaceRolePermissions(ctx context.Context, roleID string, grants []PermissionGrant) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		for _, g := range grants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO permissions (id, role_id, resource_type, actions)
				VALUES ($1, $2, $3, $4)
			`, uuid.New().String(), roleID, string(g.ResourceType), pq.Array(g.Actions.Strings()))
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
				}
				return fmt.Errorf("failed to insert role permission: %w", err)
			}
		}
		return nil
	})
}

// ReplaceUserRoles deletes every direct role assignment of a user and inserts roleIDs
func (r *SimpleRoleStore) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear user roles: %w", err)
		}
		now := time.Now()
		for _, roleID := range roleIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_roles (user_id, role_id, created_at)
				VALUES ($1, $2, $3)
			`, userID, roleID, now)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: unknown role %s", ErrInvalidArgument, roleID)
				}
				return fmt.Errorf("failed to assign role: %w", err)
			}
		}
		return nil
	})
}

// Helper function to scan role rows
func scanRoles(rows *sql.Rows) ([]Role, error) {
	roles := make([]Role, 0) // Initialize to empty slice, not nil (JSON: [] not null)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Slug, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ============================================================================
// SimpleGroupStore - SQL implementation of GroupStore
// ============================================================================

// SimpleGroupStore implements GroupStore using SQL
type SimpleGroupStore struct {
	db *sql.DB
}

// NewSimpleGroupStore creates a new SimpleGroupStore
func NewSimpleGroupStore(db *sql.DB) *SimpleGroupStore {
	return &SimpleGroupStore{db: db}
}

// Ensure SimpleGroupStore implements GroupStore
var _ GroupStore = (*SimpleGroupStore)(nil)

// CreateGroup creates a new group
func (g *SimpleGroupStore) CreateGroup(ctx context.Context, group *UserGroup) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	now := time.Now()
	group.CreatedAt = now
	group.UpdatedAt = now

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO user_groups (id, name, slug, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, group.ID, group.Name, group.Slug, group.Description, group.CreatedAt, group.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: group %q", ErrAlreadyExists, group.Slug)
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID
func (g *SimpleGroupStore) GetGroup(ctx context.Context, id string) (*UserGroup, error) {
	var group UserGroup
	err := g.db.QueryRowContext(ctx, `
		SELECT id, name, slug, COALESCE(description, ''), created_at, updated_at
		FROM user_groups
		WHERE id = $1
	`, id).Scan(&group.ID, &group.Name, &group.Slug, &group.Description, &group.CreatedAt, &group.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// ListGroups returns all groups
func (g *SimpleGroupStore) ListGroups(ctx context.Context) ([]UserGroup, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, slug, COALESCE(description, ''), created_at, updated_at
		FROM user_groups
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]UserGroup, 0)
	for rows.Next() {
		var group UserGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.Slug, &group.Description, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// DeleteGroup deletes a group
func (g *SimpleGroupStore) DeleteGroup(ctx context.Context, id string) error {
	result, err := g.db.ExecContext(ctx, `DELETE FROM user_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistingGroupIDs returns the ids that exist in the user_groups table
func (g *SimpleGroupStore) ExistingGroupIDs(ctx context.Context, ids []string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id FROM user_groups WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to check groups: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListUserGroupIDs returns the groups a user belongs to
func (g *SimpleGroupStore) ListUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT group_id FROM user_group_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListGroupMembers returns the members of a group
func (g *SimpleGroupStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT user_id FROM user_group_members
		WHERE group_id = $1
		ORDER BY created_at
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListGroupPermissions returns the direct grants of the given groups
func (g *SimpleGroupStore) ListGroupPermissions(ctx context.Context, groupIDs []string) ([]GroupPermission, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, group_id, resource_type, actions
		FROM group_permissions
		WHERE group_id = ANY($1)
	`, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list group permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]GroupPermission, 0)
	for rows.Next() {
		var p GroupPermission
		var rt string
		var actions pq.StringArray
		if err := rows.Scan(&p.ID, &p.GroupID, &rt, &actions); err != nil {
			return nil, fmt.Errorf("failed to scan group permission: %w", err)
		}
		if p.ResourceType, err = scanResourceType(rt); err != nil {
			return nil, err
		}
		if p.Actions, err = scanActionSet(actions); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReplaceGroupMembers deletes every member of a group and inserts userIDs
func (g *SimpleGroupStore) ReplaceGroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	return withTx(ctx, g.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_group_members WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("failed to clear group members: %w", err)
		}
		now := time.Now()
		for _, userID := range userIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_group_members (group_id, user_id, created_at)
				VALUES ($1, $2, $3)
			`, groupID, userID, now)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: group %s", ErrNotFound, groupID)
				}
				return fmt.Errorf("failed to add group member: %w", err)
			}
		}
		return nil
	})
}

// ReplaceUserGroups deletes every membership of a user and inserts groupIDs
func (g *SimpleGroupStore) ReplaceUserGroups(ctx context.Context, userID string, groupIDs []string) error {
	return withTx(ctx, g.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_group_members WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear user groups: %w", err)
		}
		now := time.Now()
		for _, groupID := range groupIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_group_members (group_id, user_id, created_at)
				VALUES ($1, $2, $3)
			`, groupID, userID, now)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: unknown group %s", ErrInvalidArgument, groupID)
				}
				return fmt.Errorf("failed to add user to group: %w", err)
			}
		}
		return nil
	})
}

// ReplaceGroupRoles deletes every role of a group and inserts roleIDs
func (g *SimpleGroupStore) ReplaceGroupRoles(ctx context.Context, groupID string, roleIDs []string) error {
	return withTx(ctx, g.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_roles WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("failed to clear group roles: %w", err)
		}
		now := time.Now()
		for _, roleID := range roleIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO group_roles (group_id, role_id, created_at)
				VALUES ($1, $2, $3)
			`, groupID, roleID, now)
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: unknown role %s", ErrInvalidArgument, roleID)
				}
				return fmt.Errorf("failed to assign group role: %w", err)
			}
		}
		return nil
	})
}

// ReplaceGroupPermissions deletes every direct grant of a group and inserts grants
func (g *SimpleGroupStore) ReplaceGroupPermissions(ctx context.Context, groupID string, grants []PermissionGrant) error {
	return withTx(ctx, g.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_permissions WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("failed to clear group permissions: %w", err)
		}
		for _, grant := range grants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO group_permissions (id, group_id, resource_type, actions)
				VALUES ($1, $2, $3, $4)
			`, uuid.New().String(), groupID, string(grant.ResourceType), pq.Array(grant.Actions.Strings()))
			if err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: group %s", ErrNotFound, groupID)
				}
				return fmt.Errorf("failed to insert group permission: %w", err)
			}
		}
		return nil
	})
}

// ============================================================================
// SimpleUserPermissionStore - SQL implementation of UserPermissionStore
// ============================================================================

// SimpleUserPermissionStore implements UserPermissionStore using SQL
type SimpleUserPermissionStore struct {
	db *sql.DB
}

// NewSimpleUserPermissionStore creates a new SimpleUserPermissionStore
func NewSimpleUserPermissionStore(db *sql.DB) *SimpleUserPermissionStore {
	return &SimpleUserPermissionStore{db: db}
}

// Ensure SimpleUserPermissionStore implements UserPermissionStore
var _ UserPermissionStore = (*SimpleUserPermissionStore)(nil)

// ListUserPermissions returns the direct grants of a user
func (u *SimpleUserPermissionStore) ListUserPermissions(ctx context.Context, userID string) ([]UserPermission, error) {
	rows, err := u.db.QueryContext(ctx, `
		SELECT id, user_id, resource_type, actions, COALESCE(granted_by_id, '')
		FROM user_permissions
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]UserPermission, 0)
	for rows.Next() {
		var p UserPermission
		var rt string
		var actions pq.StringArray
		if err := rows.Scan(&p.ID, &p.UserID, &rt, &actions, &p.GrantedByID); err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		if p.ResourceType, err = scanResourceType(rt); err != nil {
			return nil, err
		}
		if p.Actions, err = scanActionSet(actions); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReplaceUserPermissions deletes every direct grant of a user and inserts grants
func (u *SimpleUserPermissionStore) ReplaceUserPermissions(ctx context.Context, userID, grantedByID string, grants []PermissionGrant) error {
	return withTx(ctx, u.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear user permissions: %w", err)
		}
		now := time.Now()
		for _, grant := range grants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_permissions (id, user_id, resource_type, actions, granted_by_id, created_at)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
			`, uuid.New().String(), userID, string(grant.ResourceType), pq.Array(grant.Actions.Strings()), grantedByID, now)
			if err != nil {
				return fmt.Errorf("failed to insert user permission: %w", err)
			}
		}
		return nil
	})
}

// ============================================================================
// Factory function for convenience
// ============================================================================

// NewSimpleBackend creates all SQL stores at once
func NewSimpleBackend(db *sql.DB) Stores {
	return Stores{
		Roles:           NewSimpleRoleStore(db),
		Groups:          NewSimpleGroupStore(db),
		UserPermissions: NewSimpleUserPermissionStore(db),
		Access:          NewSimpleResourceAccessStore(db),
	}
}
