package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Decider answers authorization questions for one user within one request.
// Roles, group memberships and global grants are loaded once by Engine.ForUser;
// instance ACL rows are always read fresh. A Decider must not outlive the request
// it was built for: it never observes administrative changes made after it loaded.
type Decider struct {
	engine  *Engine
	userID  string
	roles   EffectiveRoles
	isAdmin bool

	roleGrants  map[ResourceType]ActionSet
	groupGrants map[ResourceType]ActionSet
	userGrants  map[ResourceType]ActionSet
}

type deciderKey struct{}

// ContextWithDecider stores d in ctx so later Engine calls for the same user reuse it.
func ContextWithDecider(ctx context.Context, d *Decider) context.Context {
	return context.WithValue(ctx, deciderKey{}, d)
}

// DeciderFromContext returns the Decider stored by ContextWithDecider, or nil.
func DeciderFromContext(ctx context.Context) *Decider {
	d, _ := ctx.Value(deciderKey{}).(*Decider)
	return d
}

// UserID returns the user this Decider answers for.
func (d *Decider) UserID() string {
	return d.userID
}

// Roles returns the user's effective roles.
func (d *Decider) Roles() EffectiveRoles {
	return d.roles
}

// IsAdmin reports whether the user holds the admin role.
func (d *Decider) IsAdmin() bool {
	return d.isAdmin
}

// globalSatisfies checks role, group and user grants in that order.
func (d *Decider) globalSatisfies(resourceType ResourceType, action Action) bool {
	if ActionSatisfies(d.roleGrants[resourceType], action) {
		return true
	}
	if ActionSatisfies(d.groupGrants[resourceType], action) {
		return true
	}
	return ActionSatisfies(d.userGrants[resourceType], action)
}

// Can evaluates the fixed precedence: admin bypass, role grant, group grant,
// user grant, instance ACL (definitive when a row exists), creator fallback.
func (d *Decider) Can(ctx context.Context, resourceType ResourceType, resourceID string, action Action, opts ...CheckOption) (bool, error) {
	if err := validateCheck(resourceType, action); err != nil {
		return false, err
	}
	if d.isAdmin {
		return true, nil
	}
	if d.globalSatisfies(resourceType, action) {
		return true, nil
	}
	if resourceID == "" {
		return false, nil
	}

	row, err := d.engine.access.GetResourceAccess(ctx, resourceType, resourceID, d.userID)
	if err == nil {
		return ActionSatisfies(row.Actions, action), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	o := applyCheckOptions(opts)
	return d.isCreator(ctx, resourceType, resourceID, o.createdByID)
}

func (d *Decider) isCreator(ctx context.Context, resourceType ResourceType, resourceID, hint string) (bool, error) {
	creator := hint
	if creator == "" {
		var err error
		creator, err = d.engine.resolveCreator(ctx, resourceType, resourceID)
		if err != nil {
			return false, err
		}
	}
	return creator != "" && creator == d.userID, nil
}

// AccessibleResourceIDs returns "all" when a global grant covers read, and
// otherwise the ids of the user's ACL entries that satisfy read.
func (d *Decider) AccessibleResourceIDs(ctx context.Context, resourceType ResourceType) (AccessibleSet, error) {
	if !resourceType.Valid() {
		return AccessibleSet{}, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if d.isAdmin || d.globalSatisfies(resourceType, ActionRead) {
		return AccessibleSet{All: true}, nil
	}

	rows, err := d.engine.access.ListUserResourceAccess(ctx, d.userID, resourceType)
	if err != nil {
		return AccessibleSet{}, err
	}
	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.ResourceType != resourceType || !ActionSatisfies(row.Actions, ActionRead) {
			continue
		}
		if _, ok := seen[row.ResourceID]; ok {
			continue
		}
		seen[row.ResourceID] = struct{}{}
		ids = append(ids, row.ResourceID)
	}
	return AccessibleSet{IDs: ids}, nil
}

// FilterAllowed returns the ids of the instances on which the user may perform
// action, reading the ACL rows for all of them in a single store call.
func (d *Decider) FilterAllowed(ctx context.Context, resourceType ResourceType, action Action, instances []Instance) ([]string, error) {
	if err := validateCheck(resourceType, action); err != nil {
		return nil, err
	}
	allowed := make([]string, 0, len(instances))
	if d.isAdmin || d.globalSatisfies(resourceType, action) {
		for _, inst := range instances {
			allowed = append(allowed, inst.ID)
		}
		return allowed, nil
	}
	if len(instances) == 0 {
		return allowed, nil
	}

	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	rows, err := d.engine.access.ListUserResourceAccessByIDs(ctx, d.userID, resourceType, uniqueStrings(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]ActionSet, len(rows))
	for _, row := range rows {
		byID[row.ResourceID] = row.Actions
	}

	for _, inst := range instances {
		if actions, ok := byID[inst.ID]; ok {
			if ActionSatisfies(actions, action) {
				allowed = append(allowed, inst.ID)
			}
			continue
		}
		creator, err := d.isCreator(ctx, resourceType, inst.ID, inst.CreatedByID)
		if err != nil {
			return nil, err
		}
		if creator {
			allowed = append(allowed, inst.ID)
		}
	}
	return allowed, nil
}

// EffectivePermissions merges role, group and user grants per resource type and
// lists the user's instance-level entries.
func (d *Decider) EffectivePermissions(ctx context.Context) (*EffectivePermissions, error) {
	rows, err := d.engine.access.ListUserResourceAccess(ctx, d.userID, "")
	if err != nil {
		return nil, err
	}

	merged := make(map[ResourceType]ActionSet)
	for _, grants := range []map[ResourceType]ActionSet{d.roleGrants, d.groupGrants, d.userGrants} {
		for rt, actions := range grants {
			merged[rt] = merged[rt].Union(actions)
		}
	}

	roles := append([]string(nil), d.roles.RoleSlugs...)
	sort.Strings(roles)
	if rows == nil {
		rows = []ResourceAccess{}
	}
	return &EffectivePermissions{
		UserID:         d.userID,
		Roles:          roles,
		IsAdmin:        d.isAdmin,
		Permissions:    merged,
		ResourceAccess: rows,
	}, nil
}
