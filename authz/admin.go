package authz

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// AdminService manages roles, groups and global grants.
// Role operations require manage on ResourceRole, group operations manage on
// ResourceUserGroup, and per-user assignments manage on ResourceUser.
type AdminService struct {
	authz  Authorizer
	roles  RoleStore
	groups GroupStore
	users  UserPermissionStore
}

// NewAdminService creates a new admin service
func NewAdminService(authz Authorizer, stores Stores) *AdminService {
	return &AdminService{
		authz:  authz,
		roles:  stores.Roles,
		groups: stores.Groups,
		users:  stores.UserPermissions,
	}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

func (s *AdminService) require(ctx context.Context, actorID string, resourceType ResourceType) error {
	ok, err := s.authz.Can(ctx, actorID, resourceType, "", ActionManage)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("AUTHZ DENIED - User %s cannot manage %s", actorID, resourceType)
		return ErrForbidden
	}
	return nil
}

// CreateRoleInput represents input for creating a role
type CreateRoleInput struct {
	Slug        string `json:"slug" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
}

// CreateRole creates a non-system role
func (s *AdminService) CreateRole(ctx context.Context, actorID string, input CreateRoleInput) (*Role, error) {
	if err := s.require(ctx, actorID, ResourceRole); err != nil {
		return nil, err
	}
	input.Slug = strings.TrimSpace(input.Slug)
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" || !slugPattern.MatchString(input.Slug) {
		return nil, fmt.Errorf("%w: role name and a lowercase slug are required", ErrInvalidArgument)
	}

	role := &Role{
		ID:          uuid.New().String(),
		Slug:        input.Slug,
		Name:        input.Name,
		Description: input.Description,
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	log.Printf("ADMIN - User %s created role %s (%s)", actorID, role.Slug, role.ID)
	return role, nil
}

// ListRoles returns every role with its permissions
func (s *AdminService) ListRoles(ctx context.Context, actorID string) ([]Role, error) {
	ok, err := s.authz.Can(ctx, actorID, ResourceRole, "", ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return roles, nil
	}
	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	perms, err := s.roles.ListRolePermissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	byRole := make(map[string][]Permission, len(roles))
	for _, p := range perms {
		byRole[p.RoleID] = append(byRole[p.RoleID], p)
	}
	for i := range roles {
		roles[i].Permissions = byRole[roles[i].ID]
	}
	return roles, nil
}

// DeleteRole deletes a role. System roles are protected.
func (s *AdminService) DeleteRole(ctx context.Context, actorID, roleID string) error {
	if err := s.require(ctx, actorID, ResourceRole); err != nil {
		return err
	}
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	if err := s.roles.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	log.Printf("ADMIN - User %s deleted role %s", actorID, role.Slug)
	return nil
}

// ReplaceRolePermissions replaces every permission row of a role
func (s *AdminService) ReplaceRolePermissions(ctx context.Context, actorID, roleID string, grants []PermissionGrant) error {
	if err := s.require(ctx, actorID, ResourceRole); err != nil {
		return err
	}
	merged, err := mergeGrants(grants)
	if err != nil {
		return err
	}
	if _, err := s.roles.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.roles.ReplaceRolePermissions(ctx, roleID, merged)
}

// ReplaceUserRoles replaces the direct role assignments of a user.
// Unknown role ids reject the whole operation.
func (s *AdminService) ReplaceUserRoles(ctx context.Context, actorID, userID string, roleIDs []string) error {
	if err := s.require(ctx, actorID, ResourceUser); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	roleIDs, err := s.checkRoleIDs(ctx, roleIDs)
	if err != nil {
		return err
	}
	return s.roles.ReplaceUserRoles(ctx, userID, roleIDs)
}

// ReplaceUserPermissions replaces the direct grants of a user
func (s *AdminService) ReplaceUserPermissions(ctx context.Context, actorID, userID string, grants []PermissionGrant) error {
	if err := s.require(ctx, actorID, ResourceUser); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	merged, err := mergeGrants(grants)
	if err != nil {
		return err
	}
	return s.users.ReplaceUserPermissions(ctx, userID, actorID, merged)
}

// ReplaceUserGroups replaces every group membership of a user.
// Unknown group ids reject the whole operation.
func (s *AdminService) ReplaceUserGroups(ctx context.Context, actorID, userID string, groupIDs []string) error {
	if err := s.require(ctx, actorID, ResourceUser); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	groupIDs, err := s.checkGroupIDs(ctx, groupIDs)
	if err != nil {
		return err
	}
	return s.groups.ReplaceUserGroups(ctx, userID, groupIDs)
}

// CreateGroupInput represents input for creating a group
type CreateGroupInput struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug" binding:"required"`
	Description string `json:"description,omitempty"`
}

// CreateGroup creates a user group
func (s *AdminService) CreateGroup(ctx context.Context, actorID string, input CreateGroupInput) (*UserGroup, error) {
	if err := s.require(ctx, actorID, ResourceUserGroup); err != nil {
		return nil, err
	}
	input.Slug = strings.TrimSpace(input.Slug)
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" || !slugPattern.MatchString(input.Slug) {
		return nil, fmt.Errorf("%w: group name and a lowercase slug are required", ErrInvalidArgument)
	}

	group := &UserGroup{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Slug:        input.Slug,
		Description: input.Description,
	}
	if err := s.groups.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	log.Printf("ADMIN - User %s created group %s (%s)", actorID, group.Slug, group.ID)
	return group, nil
}

// ListGroups returns every group
func (s *AdminService) ListGroups(ctx context.Context, actorID string) ([]UserGroup, error) {
	ok, err := s.authz.Can(ctx, actorID, ResourceUserGroup, "", ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.groups.ListGroups(ctx)
}

// DeleteGroup deletes a group
func (s *AdminService) DeleteGroup(ctx context.Context, actorID, groupID string) error {
	if err := s.require(ctx, actorID, ResourceUserGroup); err != nil {
		return err
	}
	if err := s.groups.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	log.Printf("ADMIN - User %s deleted group %s", actorID, groupID)
	return nil
}

// ReplaceGroupMembers replaces the members of a group
func (s *AdminService) ReplaceGroupMembers(ctx context.Context, actorID, groupID string, userIDs []string) error {
	if err := s.require(ctx, actorID, ResourceUserGroup); err != nil {
		return err
	}
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return s.groups.ReplaceGroupMembers(ctx, groupID, uniqueStrings(userIDs))
}

// ReplaceGroupRoles replaces the roles assigned to a group.
// Unknown role ids reject the whole operation.
func (s *AdminService) ReplaceGroupRoles(ctx context.Context, actorID, groupID string, roleIDs []string) error {
	if err := s.require(ctx, actorID, ResourceUserGroup); err != nil {
		return err
	}
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return err
	}
	roleIDs, err := s.checkRoleIDs(ctx, roleIDs)
	if err != nil {
		return err
	}
	return s.groups.ReplaceGroupRoles(ctx, groupID, roleIDs)
}

// ReplaceGroupPermissions replaces the direct grants of a group
func (s *AdminService) ReplaceGroupPermissions(ctx context.Context, actorID, groupID string, grants []PermissionGrant) error {
	if err := s.require(ctx, actorID, ResourceUserGroup); err != nil {
		return err
	}
	merged, err := mergeGrants(grants)
	if err != nil {
		return err
	}
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return s.groups.ReplaceGroupPermissions(ctx, groupID, merged)
}

// checkRoleIDs dedupes ids and fails with ErrInvalidArgument if any is unknown.
func (s *AdminService) checkRoleIDs(ctx context.Context, roleIDs []string) ([]string, error) {
	roleIDs = uniqueStrings(roleIDs)
	if len(roleIDs) == 0 {
		return roleIDs, nil
	}
	existing, err := s.roles.ExistingRoleIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if missing := missingIDs(roleIDs, existing); len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown role ids %s", ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return roleIDs, nil
}

// checkGroupIDs dedupes ids and fails with ErrInvalidArgument if any is unknown.
func (s *AdminService) checkGroupIDs(ctx context.Context, groupIDs []string) ([]string, error) {
	groupIDs = uniqueStrings(groupIDs)
	if len(groupIDs) == 0 {
		return groupIDs, nil
	}
	existing, err := s.groups.ExistingGroupIDs(ctx, groupIDs)
	if err != nil {
		return nil, err
	}
	if missing := missingIDs(groupIDs, existing); len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown group ids %s", ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return groupIDs, nil
}

func missingIDs(wanted, existing []string) []string {
	found := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		found[id] = struct{}{}
	}
	var missing []string
	for _, id := range wanted {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// mergeGrants validates grants and unions those naming the same resource type.
func mergeGrants(grants []PermissionGrant) ([]PermissionGrant, error) {
	byType := make(map[ResourceType]ActionSet, len(grants))
	for _, g := range grants {
		if !g.ResourceType.Valid() {
			return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, g.ResourceType)
		}
		if g.Actions.IsEmpty() {
			return nil, fmt.Errorf("%w: empty action set for %s", ErrInvalidArgument, g.ResourceType)
		}
		byType[g.ResourceType] = byType[g.ResourceType].Union(g.Actions)
	}
	merged := make([]PermissionGrant, 0, len(byType))
	for rt, actions := range byType {
		merged = append(merged, PermissionGrant{ResourceType: rt, Actions: actions})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ResourceType < merged[j].ResourceType })
	return merged, nil
}
