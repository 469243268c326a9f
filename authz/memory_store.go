package authz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements every store interface in memory.
// It is safe for concurrent use and intended for tests and local tooling.
type MemoryStore struct {
	mu sync.RWMutex

	roles           map[string]Role
	rolePermissions map[string][]Permission // roleID -> rows
	userRoles       map[string][]string     // userID -> roleIDs
	groups          map[string]UserGroup
	groupMembers    map[string][]string // groupID -> userIDs
	groupRoles      map[string][]string // groupID -> roleIDs
	groupPerms      map[string][]GroupPermission
	userPerms       map[string][]UserPermission
	access          map[accessKey]ResourceAccess
}

type accessKey struct {
	resourceType ResourceType
	resourceID   string
	userID       string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:           make(map[string]Role),
		rolePermissions: make(map[string][]Permission),
		userRoles:       make(map[string][]string),
		groups:          make(map[string]UserGroup),
		groupMembers:    make(map[string][]string),
		groupRoles:      make(map[string][]string),
		groupPerms:      make(map[string][]GroupPermission),
		userPerms:       make(map[string][]UserPermission),
		access:          make(map[accessKey]ResourceAccess),
	}
}

// Stores returns the MemoryStore wired into every slot.
func (m *MemoryStore) Stores() Stores {
	return Stores{Roles: m, Groups: m, UserPermissions: m, Access: m}
}

var (
	_ RoleStore           = (*MemoryStore)(nil)
	_ GroupStore          = (*MemoryStore)(nil)
	_ UserPermissionStore = (*MemoryStore)(nil)
	_ ResourceAccessStore = (*MemoryStore)(nil)
)

// ---------------------------------------------------------------------------
// RoleStore
// ---------------------------------------------------------------------------

func (m *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	for _, r := range m.roles {
		if r.Slug == role.Slug || r.ID == role.ID {
			return ErrAlreadyExists
		}
	}
	now := time.Now()
	role.CreatedAt, role.UpdatedAt = now, now
	stored := *role
	stored.Permissions = nil
	m.roles[role.ID] = stored
	return nil
}

func (m *MemoryStore) GetRole(ctx context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePermissions, id)
	for user, ids := range m.userRoles {
		m.userRoles[user] = without(ids, id)
	}
	for group, ids := range m.groupRoles {
		m.groupRoles[group] = without(ids, id)
	}
	return nil
}

func (m *MemoryStore) ExistingRoleIDs(ctx context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.roles[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rolesByID(m.userRoles[userID]), nil
}

func (m *MemoryStore) ListGroupRoles(ctx context.Context, groupIDs []string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, g := range groupIDs {
		ids = append(ids, m.groupRoles[g]...)
	}
	return m.rolesByID(ids), nil
}

func (m *MemoryStore) rolesByID(ids []string) []Role {
	out := make([]Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.roles[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemoryStore) ListRolePermissions(ctx context.Context, roleIDs []string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for _, id := range roleIDs {
		out = append(out, m.rolePermissions[id]...)
	}
	return out, nil
}

func (m *MemoryStore) ReplaceRolePermissions(ctx context.Context, roleID string, grants []PermissionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	rows := make([]Permission, 0, len(grants))
	for _, g := range grants {
		rows = append(rows, Permission{ID: uuid.New().String(), RoleID: roleID, ResourceType: g.ResourceType, Actions: g.Actions})
	}
	m.rolePermissions[roleID] = rows
	return nil
}

func (m *MemoryStore) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			return ErrInvalidArgument
		}
	}
	m.userRoles[userID] = append([]string(nil), roleIDs...)
	return nil
}

// ---------------------------------------------------------------------------
// GroupStore
// ---------------------------------------------------------------------------

func (m *MemoryStore) CreateGroup(ctx context.Context, group *UserGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	for _, g := range m.groups {
		if g.Slug == group.Slug || g.Name == group.Name || g.ID == group.ID {
			return ErrAlreadyExists
		}
	}
	now := time.Now()
	group.CreatedAt, group.UpdatedAt = now, now
	m.groups[group.ID] = *group
	return nil
}

func (m *MemoryStore) GetGroup(ctx context.Context, id string) (*UserGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *MemoryStore) ListGroups(ctx context.Context) ([]UserGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UserGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	delete(m.groupMembers, id)
	delete(m.groupRoles, id)
	delete(m.groupPerms, id)
	return nil
}

func (m *MemoryStore) ExistingGroupIDs(ctx context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.groups[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUserGroupIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for groupID, members := range m.groupMembers {
		for _, u := range members {
			if u == userID {
				out = append(out, groupID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.groupMembers[groupID]...), nil
}

func (m *MemoryStore) ListGroupPermissions(ctx context.Context, groupIDs []string) ([]GroupPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GroupPermission
	for _, id := range groupIDs {
		out = append(out, m.groupPerms[id]...)
	}
	return out, nil
}

func (m *MemoryStore) ReplaceGroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrNotFound
	}
	m.groupMembers[groupID] = append([]string(nil), userIDs...)
	return nil
}

func (m *MemoryStore) ReplaceUserGroups(ctx context.Context, userID string, groupIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range groupIDs {
		if _, ok := m.groups[id]; !ok {
			return ErrInvalidArgument
		}
	}
	for groupID, members := range m.groupMembers {
		m.groupMembers[groupID] = without(append([]string(nil), members...), userID)
	}
	for _, groupID := range groupIDs {
		m.groupMembers[groupID] = append(m.groupMembers[groupID], userID)
	}
	return nil
}

func (m *MemoryStore) ReplaceGroupRoles(ctx context.Context, groupID string, roleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrNotFound
	}
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			return ErrInvalidArgument
		}
	}
	m.groupRoles[groupID] = append([]string(nil), roleIDs...)
	return nil
}

func (m *MemoryStore) ReplaceGroupPermissions(ctx context.Context, groupID string, grants []PermissionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrNotFound
	}
	rows := make([]GroupPermission, 0, len(grants))
	for _, g := range grants {
		rows = append(rows, GroupPermission{ID: uuid.New().String(), GroupID: groupID, ResourceType: g.ResourceType, Actions: g.Actions})
	}
	m.groupPerms[groupID] = rows
	return nil
}

// ---------------------------------------------------------------------------
// UserPermissionStore
// ---------------------------------------------------------------------------

func (m *MemoryStore) ListUserPermissions(ctx context.Context, userID string) ([]UserPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]UserPermission(nil), m.userPerms[userID]...), nil
}

func (m *MemoryStore) ReplaceUserPermissions(ctx context.Context, userID, grantedByID string, grants []PermissionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]UserPermission, 0, len(grants))
	for _, g := range grants {
		rows = append(rows, UserPermission{ID: uuid.New().String(), UserID: userID, ResourceType: g.ResourceType, Actions: g.Actions, GrantedByID: grantedByID})
	}
	m.userPerms[userID] = rows
	return nil
}

// ---------------------------------------------------------------------------
// ResourceAccessStore
// ---------------------------------------------------------------------------

func (m *MemoryStore) GetResourceAccess(ctx context.Context, resourceType ResourceType, resourceID, userID string) (*ResourceAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.access[accessKey{resourceType, resourceID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (m *MemoryStore) ListUserResourceAccess(ctx context.Context, userID string, resourceType ResourceType) ([]ResourceAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResourceAccess, 0)
	for k, row := range m.access {
		if k.userID == userID && (resourceType == "" || k.resourceType == resourceType) {
			out = append(out, row)
		}
	}
	sortAccess(out)
	return out, nil
}

func (m *MemoryStore) ListUserResourceAccessByIDs(ctx context.Context, userID string, resourceType ResourceType, resourceIDs []string) ([]ResourceAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResourceAccess, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if row, ok := m.access[accessKey{resourceType, id, userID}]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListResourceAccess(ctx context.Context, resourceType ResourceType, resourceID string) ([]ResourceAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResourceAccess, 0)
	for k, row := range m.access {
		if k.resourceType == resourceType && k.resourceID == resourceID {
			out = append(out, row)
		}
	}
	sortAccess(out)
	return out, nil
}

func (m *MemoryStore) UpsertResourceAccess(ctx context.Context, access *ResourceAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accessKey{access.ResourceType, access.ResourceID, access.UserID}
	now := time.Now()
	if existing, ok := m.access[key]; ok {
		access.ID = existing.ID
		access.CreatedAt = existing.CreatedAt
	} else {
		if access.ID == "" {
			access.ID = uuid.New().String()
		}
		access.CreatedAt = now
	}
	access.UpdatedAt = now
	m.access[key] = *access
	return nil
}

func (m *MemoryStore) UpdateResourceAccess(ctx context.Context, access *ResourceAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accessKey{access.ResourceType, access.ResourceID, access.UserID}
	existing, ok := m.access[key]
	if !ok {
		return ErrNotFound
	}
	access.ID = existing.ID
	access.CreatedAt = existing.CreatedAt
	access.UpdatedAt = time.Now()
	m.access[key] = *access
	return nil
}

func (m *MemoryStore) DeleteResourceAccess(ctx context.Context, resourceType ResourceType, resourceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accessKey{resourceType, resourceID, userID}
	if _, ok := m.access[key]; !ok {
		return ErrNotFound
	}
	delete(m.access, key)
	return nil
}

func sortAccess(rows []ResourceAccess) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ResourceType != rows[j].ResourceType {
			return rows[i].ResourceType < rows[j].ResourceType
		}
		if rows[i].ResourceID != rows[j].ResourceID {
			return rows[i].ResourceID < rows[j].ResourceID
		}
		return rows[i].UserID < rows[j].UserID
	})
}

func without(values []string, drop string) []string {
	out := values[:0]
	for _, v := range values {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
