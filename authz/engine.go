package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultAdminRoleSlug is the slug of the role that bypasses every check.
// It is matched by slug so it stays stable across deployments.
const DefaultAdminRoleSlug = "security-admin"

// Authorizer defines the read side of the engine: "is this allowed?"
// A false result is a decision, not an error; errors only report store failures
// or invalid arguments.
type Authorizer interface {
	// Can reports whether userID may perform action on resourceType.
	// resourceID may be empty for a type-level check.
	// Example: Can(ctx, "user-123", ResourceObject, "obj-1", ActionUpdate, WithCreator(obj.CreatedBy))
	Can(ctx context.Context, userID string, resourceType ResourceType, resourceID string, action Action, opts ...CheckOption) (bool, error)

	// AccessibleResourceIDs returns the instances of resourceType the user may read
	AccessibleResourceIDs(ctx context.Context, userID string, resourceType ResourceType) (AccessibleSet, error)

	// EffectivePermissions returns a snapshot of the user's grants for display
	EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error)
}

// CreatorResolver looks up the creator of a resource instance.
// It returns ErrNotFound when the instance does not exist.
type CreatorResolver func(ctx context.Context, resourceID string) (string, error)

// Engine implements Authorizer over the role, group, user-permission and ACL stores.
// It is stateless; per-request memoization lives in Decider.
type Engine struct {
	roles     RoleStore
	groups    GroupStore
	users     UserPermissionStore
	access    ResourceAccessStore
	adminSlug string
	creators  map[ResourceType]CreatorResolver
}

// Ensure Engine implements Authorizer interface
var _ Authorizer = (*Engine)(nil)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAdminRoleSlug overrides the slug of the bypass role.
func WithAdminRoleSlug(slug string) EngineOption {
	return func(e *Engine) {
		if slug != "" {
			e.adminSlug = slug
		}
	}
}

// WithCreatorResolver registers a creator lookup for one resource type.
// It is consulted only when the caller did not pass WithCreator.
func WithCreatorResolver(resourceType ResourceType, fn CreatorResolver) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.creators[resourceType] = fn
		}
	}
}

// NewEngine creates a new Engine backed by the given stores
func NewEngine(stores Stores, opts ...EngineOption) *Engine {
	e := &Engine{
		roles:     stores.Roles,
		groups:    stores.Groups,
		users:     stores.UserPermissions,
		access:    stores.Access,
		adminSlug: DefaultAdminRoleSlug,
		creators:  make(map[ResourceType]CreatorResolver),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AdminRoleSlug returns the slug of the bypass role.
func (e *Engine) AdminRoleSlug() string {
	return e.adminSlug
}

type checkOptions struct {
	createdByID string
}

// CheckOption adjusts a single Can call.
type CheckOption func(*checkOptions)

// WithCreator passes the creator of the checked instance. A user who created the
// instance has full control over it unless an explicit ACL entry exists for them.
func WithCreator(createdByID string) CheckOption {
	return func(o *checkOptions) {
		o.createdByID = createdByID
	}
}

func applyCheckOptions(opts []CheckOption) checkOptions {
	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ResolveRoles computes the union of directly assigned roles and roles inherited
// through group membership. Duplicates collapse to one.
func (e *Engine) ResolveRoles(ctx context.Context, userID string) (EffectiveRoles, error) {
	var direct []Role
	var groupIDs []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		direct, err = e.roles.ListUserRoles(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		groupIDs, err = e.groups.ListUserGroupIDs(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return EffectiveRoles{}, err
	}

	var inherited []Role
	if len(groupIDs) > 0 {
		var err error
		inherited, err = e.roles.ListGroupRoles(ctx, groupIDs)
		if err != nil {
			return EffectiveRoles{}, err
		}
	}

	roles := EffectiveRoles{
		RoleIDs:   make([]string, 0, len(direct)+len(inherited)),
		RoleSlugs: make([]string, 0, len(direct)+len(inherited)),
		GroupIDs:  uniqueStrings(groupIDs),
	}
	seenIDs := make(map[string]struct{})
	seenSlugs := make(map[string]struct{})
	for _, list := range [][]Role{direct, inherited} {
		for _, r := range list {
			if _, ok := seenIDs[r.ID]; !ok {
				seenIDs[r.ID] = struct{}{}
				roles.RoleIDs = append(roles.RoleIDs, r.ID)
			}
			if _, ok := seenSlugs[r.Slug]; !ok && r.Slug != "" {
				seenSlugs[r.Slug] = struct{}{}
				roles.RoleSlugs = append(roles.RoleSlugs, r.Slug)
			}
		}
	}
	sort.Strings(roles.RoleSlugs)
	return roles, nil
}

// ForUser resolves roles and loads every global grant of a user once.
// The returned Decider answers any number of checks for that user without
// re-reading roles, groups or global permissions.
func (e *Engine) ForUser(ctx context.Context, userID string) (*Decider, error) {
	roles, err := e.ResolveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	d := &Decider{
		engine:      e,
		userID:      userID,
		roles:       roles,
		isAdmin:     roles.HasSlug(e.adminSlug),
		roleGrants:  make(map[ResourceType]ActionSet),
		groupGrants: make(map[ResourceType]ActionSet),
		userGrants:  make(map[ResourceType]ActionSet),
	}

	var rolePerms []Permission
	var groupPerms []GroupPermission
	var userPerms []UserPermission

	g, gctx := errgroup.WithContext(ctx)
	if len(roles.RoleIDs) > 0 {
		g.Go(func() error {
			var err error
			rolePerms, err = e.roles.ListRolePermissions(gctx, roles.RoleIDs)
			return err
		})
	}
	if len(roles.GroupIDs) > 0 {
		g.Go(func() error {
			var err error
			groupPerms, err = e.groups.ListGroupPermissions(gctx, roles.GroupIDs)
			return err
		})
	}
	g.Go(func() error {
		var err error
		userPerms, err = e.users.ListUserPermissions(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range rolePerms {
		d.roleGrants[p.ResourceType] = d.roleGrants[p.ResourceType].Union(p.Actions)
	}
	for _, p := range groupPerms {
		d.groupGrants[p.ResourceType] = d.groupGrants[p.ResourceType].Union(p.Actions)
	}
	for _, p := range userPerms {
		d.userGrants[p.ResourceType] = d.userGrants[p.ResourceType].Union(p.Actions)
	}
	return d, nil
}

// decider returns the request-scoped Decider stored in ctx when it belongs to
// this engine and user, and resolves a fresh one otherwise.
func (e *Engine) decider(ctx context.Context, userID string) (*Decider, error) {
	if d := DeciderFromContext(ctx); d != nil && d.engine == e && d.userID == userID {
		return d, nil
	}
	return e.ForUser(ctx, userID)
}

// Can is the single yes/no authorization primitive.
func (e *Engine) Can(ctx context.Context, userID string, resourceType ResourceType, resourceID string, action Action, opts ...CheckOption) (bool, error) {
	if err := validateCheck(resourceType, action); err != nil {
		return false, err
	}
	if userID == "" {
		return false, nil
	}
	d, err := e.decider(ctx, userID)
	if err != nil {
		return false, err
	}
	return d.Can(ctx, resourceType, resourceID, action, opts...)
}

// AccessibleResourceIDs returns "all" or the explicit ids the user may read.
func (e *Engine) AccessibleResourceIDs(ctx context.Context, userID string, resourceType ResourceType) (AccessibleSet, error) {
	if !resourceType.Valid() {
		return AccessibleSet{}, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if userID == "" {
		return AccessibleSet{IDs: []string{}}, nil
	}
	d, err := e.decider(ctx, userID)
	if err != nil {
		return AccessibleSet{}, err
	}
	return d.AccessibleResourceIDs(ctx, resourceType)
}

// EffectivePermissions returns a snapshot of every grant the user holds.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	d, err := e.decider(ctx, userID)
	if err != nil {
		return nil, err
	}
	return d.EffectivePermissions(ctx)
}

// resolveCreator consults the registered resolver for resourceType, if any.
func (e *Engine) resolveCreator(ctx context.Context, resourceType ResourceType, resourceID string) (string, error) {
	resolver, ok := e.creators[resourceType]
	if !ok {
		return "", nil
	}
	creator, err := resolver(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return creator, nil
}

func validateCheck(resourceType ResourceType, action Action) error {
	if !resourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %s", ErrInvalidArgument, action)
	}
	return nil
}

func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
