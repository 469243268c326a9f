package authz

import (
	"context"
	"fmt"
	"log"
	"time"
)

// AccessService grants, updates and revokes instance-level ACL entries.
// Every mutation except creator bootstrap requires manage on the instance.
type AccessService struct {
	authz    Authorizer
	store    ResourceAccessStore
	notifier ChangeNotifier
	now      func() time.Time
}

// NewAccessService creates a new access service. notifier may be nil.
func NewAccessService(authz Authorizer, store ResourceAccessStore, notifier ChangeNotifier) *AccessService {
	return &AccessService{
		authz:    authz,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// GrantAccessInput represents input for granting or updating an ACL entry
type GrantAccessInput struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	UserID       string       `json:"user_id"`
	Actions      ActionSet    `json:"actions"`
	GrantedByID  string       `json:"-"`
	// CreatedByID is the creator of the instance, passed to the manage check.
	CreatedByID string `json:"-"`
}

func (in GrantAccessInput) validate() error {
	if !in.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, in.ResourceType)
	}
	if in.ResourceID == "" || in.UserID == "" || in.GrantedByID == "" {
		return fmt.Errorf("%w: resource id, user id and grantor are required", ErrInvalidArgument)
	}
	if in.Actions.IsEmpty() {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidArgument)
	}
	return nil
}

func (s *AccessService) requireManage(ctx context.Context, actorID string, resourceType ResourceType, resourceID string, opts ...CheckOption) error {
	ok, err := s.authz.Can(ctx, actorID, resourceType, resourceID, ActionManage, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// GrantAccess creates the entry for (type, instance, user) or replaces its
// actions and grantor when it already exists.
func (s *AccessService) GrantAccess(ctx context.Context, input GrantAccessInput) (*ResourceAccess, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, input.GrantedByID, input.ResourceType, input.ResourceID, WithCreator(input.CreatedByID)); err != nil {
		return nil, err
	}

	access := &ResourceAccess{
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		UserID:       input.UserID,
		Actions:      input.Actions,
		GrantedByID:  input.GrantedByID,
	}
	if err := s.store.UpsertResourceAccess(ctx, access); err != nil {
		return nil, err
	}

	log.Printf("ACL GRANT - User %s granted %s on %s %s to %s", input.GrantedByID, input.Actions, input.ResourceType, input.ResourceID, input.UserID)
	s.notify(ctx, ChangeGranted, access, input.GrantedByID)
	return access, nil
}

// UpdateAccess replaces the actions of an existing entry.
func (s *AccessService) UpdateAccess(ctx context.Context, input GrantAccessInput) (*ResourceAccess, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, input.GrantedByID, input.ResourceType, input.ResourceID, WithCreator(input.CreatedByID)); err != nil {
		return nil, err
	}

	access := &ResourceAccess{
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		UserID:       input.UserID,
		Actions:      input.Actions,
		GrantedByID:  input.GrantedByID,
	}
	if err := s.store.UpdateResourceAccess(ctx, access); err != nil {
		return nil, err
	}

	log.Printf("ACL UPDATE - User %s set %s on %s %s for %s", input.GrantedByID, input.Actions, input.ResourceType, input.ResourceID, input.UserID)
	s.notify(ctx, ChangeUpdated, access, input.GrantedByID)
	return access, nil
}

// RevokeAccess deletes the entry for (type, instance, target user).
func (s *AccessService) RevokeAccess(ctx context.Context, actorID string, resourceType ResourceType, resourceID, targetUserID string, opts ...CheckOption) error {
	if !resourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if resourceID == "" || targetUserID == "" {
		return fmt.Errorf("%w: resource id and user id are required", ErrInvalidArgument)
	}
	if err := s.requireManage(ctx, actorID, resourceType, resourceID, opts...); err != nil {
		return err
	}

	if err := s.store.DeleteResourceAccess(ctx, resourceType, resourceID, targetUserID); err != nil {
		return err
	}

	log.Printf("ACL REVOKE - User %s revoked %s %s from %s", actorID, resourceType, resourceID, targetUserID)
	s.notify(ctx, ChangeRevoked, &ResourceAccess{ResourceType: resourceType, ResourceID: resourceID, UserID: targetUserID}, actorID)
	return nil
}

// CreateCreatorAccess gives the creator of a freshly persisted instance full
// control. Resource-creation flows call it before anyone else is granted access.
func (s *AccessService) CreateCreatorAccess(ctx context.Context, resourceType ResourceType, resourceID, creatorID string) (*ResourceAccess, error) {
	if !resourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if resourceID == "" || creatorID == "" {
		return nil, fmt.Errorf("%w: resource id and creator id are required", ErrInvalidArgument)
	}

	access := &ResourceAccess{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       creatorID,
		Actions:      FullControl,
		GrantedByID:  creatorID,
	}
	if err := s.store.UpsertResourceAccess(ctx, access); err != nil {
		return nil, err
	}

	s.notify(ctx, ChangeBootstrapped, access, creatorID)
	return access, nil
}

// ListResourceAccess returns every entry on an instance (requires manage)
func (s *AccessService) ListResourceAccess(ctx context.Context, actorID string, resourceType ResourceType, resourceID string, opts ...CheckOption) ([]ResourceAccess, error) {
	if !resourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if err := s.requireManage(ctx, actorID, resourceType, resourceID, opts...); err != nil {
		return nil, err
	}
	return s.store.ListResourceAccess(ctx, resourceType, resourceID)
}

func (s *AccessService) notify(ctx context.Context, kind ChangeKind, access *ResourceAccess, actorID string) {
	if s.notifier == nil {
		return
	}
	change := AccessChange{
		Kind:         kind,
		ResourceType: access.ResourceType,
		ResourceID:   access.ResourceID,
		UserID:       access.UserID,
		Actions:      access.Actions,
		ActorID:      actorID,
		At:           s.now(),
	}
	if err := s.notifier.Notify(ctx, change); err != nil {
		log.Printf("ACL NOTIFY ERROR - %s %s %s: %v", kind, access.ResourceType, access.ResourceID, err)
	}
}
