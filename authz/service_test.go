package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// MockAuthorizer implements Authorizer for testing
type MockAuthorizer struct {
	Allowed map[string]bool // userID:resourceType:resourceID:action -> allowed
	Err     error
}

func NewMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{Allowed: make(map[string]bool)}
}

func (m *MockAuthorizer) key(userID string, rt ResourceType, resourceID string, action Action) string {
	return userID + ":" + string(rt) + ":" + resourceID + ":" + action.String()
}

func (m *MockAuthorizer) Allow(userID string, rt ResourceType, resourceID string, action Action) {
	m.Allowed[m.key(userID, rt, resourceID, action)] = true
}

func (m *MockAuthorizer) Can(ctx context.Context, userID string, rt ResourceType, resourceID string, action Action, opts ...CheckOption) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.Allowed[m.key(userID, rt, resourceID, action)], nil
}

func (m *MockAuthorizer) AccessibleResourceIDs(ctx context.Context, userID string, rt ResourceType) (AccessibleSet, error) {
	return AccessibleSet{IDs: []string{}}, m.Err
}

func (m *MockAuthorizer) EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	return &EffectivePermissions{UserID: userID}, m.Err
}

// MockNotifier records every change it is given
type MockNotifier struct {
	mu      sync.Mutex
	Changes []AccessChange
	Err     error
}

func (m *MockNotifier) Notify(ctx context.Context, change AccessChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Changes = append(m.Changes, change)
	return m.Err
}

// ============================================================================
// AccessService Tests
// ============================================================================

func TestAccessService_CreatorBootstrapThenGrant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store.Stores())
	notifier := &MockNotifier{}
	svc := NewAccessService(engine, store, notifier)

	access, err := svc.CreateCreatorAccess(ctx, ResourceObject, "obj-9", "user-u")
	if err != nil {
		t.Fatalf("CreateCreatorAccess() error = %v", err)
	}
	if access.Actions != FullControl || access.GrantedByID != "user-u" {
		t.Errorf("CreateCreatorAccess() = %+v, want full control granted by creator", access)
	}

	ok, err := engine.Can(ctx, "user-u", ResourceObject, "obj-9", ActionManage)
	if err != nil || !ok {
		t.Fatalf("creator manage = %v, %v; want true", ok, err)
	}

	_, err = svc.GrantAccess(ctx, GrantAccessInput{
		ResourceType: ResourceObject,
		ResourceID:   "obj-9",
		UserID:       "user-v",
		Actions:      NewActionSet(ActionRead),
		GrantedByID:  "user-u",
	})
	if err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}

	if ok, _ := engine.Can(ctx, "user-v", ResourceObject, "obj-9", ActionRead); !ok {
		t.Error("expected grantee read")
	}
	if ok, _ := engine.Can(ctx, "user-v", ResourceObject, "obj-9", ActionUpdate); ok {
		t.Error("expected grantee update to be denied")
	}

	if len(notifier.Changes) != 2 {
		t.Fatalf("notified %d changes, want 2", len(notifier.Changes))
	}
	if notifier.Changes[0].Kind != ChangeBootstrapped || notifier.Changes[1].Kind != ChangeGranted {
		t.Errorf("change kinds = %s, %s", notifier.Changes[0].Kind, notifier.Changes[1].Kind)
	}
}

func TestAccessService_GrantAccess_Forbidden(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store.Stores())
	notifier := &MockNotifier{}
	svc := NewAccessService(engine, store, notifier)

	if _, err := svc.CreateCreatorAccess(ctx, ResourceObject, "obj-9", "user-u"); err != nil {
		t.Fatalf("CreateCreatorAccess() error = %v", err)
	}
	notifier.Changes = nil

	_, err := svc.GrantAccess(ctx, GrantAccessInput{
		ResourceType: ResourceObject,
		ResourceID:   "obj-9",
		UserID:       "user-x",
		Actions:      NewActionSet(ActionRead),
		GrantedByID:  "user-w",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("GrantAccess() error = %v, want ErrForbidden", err)
	}

	rows, _ := store.ListResourceAccess(ctx, ResourceObject, "obj-9")
	if len(rows) != 1 || rows[0].UserID != "user-u" {
		t.Errorf("rows after forbidden grant = %+v, want only creator row", rows)
	}
	if len(notifier.Changes) != 0 {
		t.Errorf("forbidden grant notified %d changes", len(notifier.Changes))
	}
}

func TestAccessService_GrantAccess_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	authz := NewMockAuthorizer()
	authz.Allow("owner", ResourceTask, "t-1", ActionManage)
	svc := NewAccessService(authz, store, nil)

	input := GrantAccessInput{
		ResourceType: ResourceTask,
		ResourceID:   "t-1",
		UserID:       "user-v",
		Actions:      NewActionSet(ActionRead, ActionUpdate),
		GrantedByID:  "owner",
	}
	first, err := svc.GrantAccess(ctx, input)
	if err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}
	second, err := svc.GrantAccess(ctx, input)
	if err != nil {
		t.Fatalf("GrantAccess() second error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second grant created a new row: %s != %s", first.ID, second.ID)
	}

	rows, _ := store.ListResourceAccess(ctx, ResourceTask, "t-1")
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Actions != input.Actions {
		t.Errorf("actions = %v, want %v", rows[0].Actions, input.Actions)
	}

	// A later grant replaces the action set.
	input.Actions = NewActionSet(ActionExport)
	if _, err := svc.GrantAccess(ctx, input); err != nil {
		t.Fatalf("GrantAccess() replace error = %v", err)
	}
	rows, _ = store.ListResourceAccess(ctx, ResourceTask, "t-1")
	if len(rows) != 1 || rows[0].Actions != NewActionSet(ActionExport) {
		t.Errorf("rows after replace = %+v", rows)
	}
}

func TestAccessService_GrantAccess_Validation(t *testing.T) {
	ctx := context.Background()
	authz := NewMockAuthorizer()
	svc := NewAccessService(authz, NewMemoryStore(), nil)

	tests := []struct {
		name  string
		input GrantAccessInput
	}{
		{"unknown resource type", GrantAccessInput{ResourceType: "organization", ResourceID: "o-1", UserID: "u", Actions: NewActionSet(ActionRead), GrantedByID: "g"}},
		{"missing resource id", GrantAccessInput{ResourceType: ResourceObject, UserID: "u", Actions: NewActionSet(ActionRead), GrantedByID: "g"}},
		{"missing user", GrantAccessInput{ResourceType: ResourceObject, ResourceID: "o-1", Actions: NewActionSet(ActionRead), GrantedByID: "g"}},
		{"missing grantor", GrantAccessInput{ResourceType: ResourceObject, ResourceID: "o-1", UserID: "u", Actions: NewActionSet(ActionRead)}},
		{"empty actions", GrantAccessInput{ResourceType: ResourceObject, ResourceID: "o-1", UserID: "u", GrantedByID: "g"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GrantAccess(ctx, tt.input)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("GrantAccess() error = %v, want ErrInvalidArgument", err)
			}
			// The input carries no binding tags; UpdateAccess validates it the same way.
			_, err = svc.UpdateAccess(ctx, tt.input)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("UpdateAccess() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestAccessService_UpdateAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	authz := NewMockAuthorizer()
	authz.Allow("owner", ResourceReport, "rep-1", ActionManage)
	notifier := &MockNotifier{}
	svc := NewAccessService(authz, store, notifier)

	input := GrantAccessInput{
		ResourceType: ResourceReport,
		ResourceID:   "rep-1",
		UserID:       "user-v",
		Actions:      NewActionSet(ActionUpdate),
		GrantedByID:  "owner",
	}

	if _, err := svc.UpdateAccess(ctx, input); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateAccess() on missing row error = %v, want ErrNotFound", err)
	}
	if len(notifier.Changes) != 0 {
		t.Errorf("failed update notified %d changes", len(notifier.Changes))
	}

	if _, err := svc.GrantAccess(ctx, GrantAccessInput{
		ResourceType: ResourceReport, ResourceID: "rep-1", UserID: "user-v",
		Actions: NewActionSet(ActionRead), GrantedByID: "owner",
	}); err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}

	updated, err := svc.UpdateAccess(ctx, input)
	if err != nil {
		t.Fatalf("UpdateAccess() error = %v", err)
	}
	if updated.Actions != NewActionSet(ActionUpdate) {
		t.Errorf("UpdateAccess() actions = %v", updated.Actions)
	}

	input.GrantedByID = "stranger"
	if _, err := svc.UpdateAccess(ctx, input); !errors.Is(err, ErrForbidden) {
		t.Errorf("UpdateAccess() by stranger error = %v, want ErrForbidden", err)
	}
}

func TestAccessService_RevokeAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	authz := NewMockAuthorizer()
	authz.Allow("owner", ResourceIncident, "inc-1", ActionManage)
	notifier := &MockNotifier{}
	svc := NewAccessService(authz, store, notifier)

	if err := svc.RevokeAccess(ctx, "owner", ResourceIncident, "inc-1", "user-v"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RevokeAccess() on missing row error = %v, want ErrNotFound", err)
	}

	if _, err := svc.GrantAccess(ctx, GrantAccessInput{
		ResourceType: ResourceIncident, ResourceID: "inc-1", UserID: "user-v",
		Actions: NewActionSet(ActionRead), GrantedByID: "owner",
	}); err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}

	if err := svc.RevokeAccess(ctx, "user-v", ResourceIncident, "inc-1", "user-v"); !errors.Is(err, ErrForbidden) {
		t.Errorf("RevokeAccess() without manage error = %v, want ErrForbidden", err)
	}
	if err := svc.RevokeAccess(ctx, "owner", ResourceIncident, "inc-1", "user-v"); err != nil {
		t.Fatalf("RevokeAccess() error = %v", err)
	}
	if _, err := store.GetResourceAccess(ctx, ResourceIncident, "inc-1", "user-v"); !errors.Is(err, ErrNotFound) {
		t.Errorf("row still present after revoke: %v", err)
	}

	last := notifier.Changes[len(notifier.Changes)-1]
	if last.Kind != ChangeRevoked || last.UserID != "user-v" || last.ActorID != "owner" {
		t.Errorf("last change = %+v, want revoke of user-v by owner", last)
	}
}

func TestAccessService_ManageUsesCreatorHint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewAccessService(NewEngine(store.Stores()), store, nil)

	input := GrantAccessInput{
		ResourceType: ResourceEvidence,
		ResourceID:   "ev-3",
		UserID:       "user-v",
		Actions:      NewActionSet(ActionRead),
		GrantedByID:  "user-u",
	}
	if _, err := svc.GrantAccess(ctx, input); !errors.Is(err, ErrForbidden) {
		t.Fatalf("GrantAccess() without creator hint error = %v, want ErrForbidden", err)
	}

	input.CreatedByID = "user-u"
	if _, err := svc.GrantAccess(ctx, input); err != nil {
		t.Errorf("GrantAccess() by creator error = %v", err)
	}
}

func TestAccessService_ListResourceAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	authz := NewMockAuthorizer()
	authz.Allow("owner", ResourceObject, "obj-1", ActionManage)
	svc := NewAccessService(authz, store, nil)

	for _, user := range []string{"user-a", "user-b"} {
		if _, err := svc.GrantAccess(ctx, GrantAccessInput{
			ResourceType: ResourceObject, ResourceID: "obj-1", UserID: user,
			Actions: NewActionSet(ActionRead), GrantedByID: "owner",
		}); err != nil {
			t.Fatalf("GrantAccess(%s) error = %v", user, err)
		}
	}

	rows, err := svc.ListResourceAccess(ctx, "owner", ResourceObject, "obj-1")
	if err != nil {
		t.Fatalf("ListResourceAccess() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("ListResourceAccess() returned %d rows, want 2", len(rows))
	}

	if _, err := svc.ListResourceAccess(ctx, "user-a", ResourceObject, "obj-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("ListResourceAccess() without manage error = %v, want ErrForbidden", err)
	}
}

func TestAccessService_StoreAndCheckErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	authz := NewMockAuthorizer()
	authz.Err = errStoreDown
	svc := NewAccessService(authz, NewMemoryStore(), nil)

	_, err := svc.GrantAccess(ctx, GrantAccessInput{
		ResourceType: ResourceObject, ResourceID: "obj-1", UserID: "u",
		Actions: NewActionSet(ActionRead), GrantedByID: "g",
	})
	if !errors.Is(err, errStoreDown) {
		t.Errorf("GrantAccess() error = %v, want store failure", err)
	}
}

func TestAccessService_NotifierFailureDoesNotFailGrant(t *testing.T) {
	ctx := context.Background()
	authz := NewMockAuthorizer()
	authz.Allow("owner", ResourceObject, "obj-1", ActionManage)
	notifier := &MockNotifier{Err: errors.New("queue unavailable")}
	svc := NewAccessService(authz, NewMemoryStore(), notifier)

	access, err := svc.GrantAccess(ctx, GrantAccessInput{
		ResourceType: ResourceObject, ResourceID: "obj-1", UserID: "u",
		Actions: NewActionSet(ActionRead), GrantedByID: "owner",
	})
	if err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}
	if access.ID == "" {
		t.Error("GrantAccess() returned row without id")
	}
	if len(notifier.Changes) != 1 {
		t.Errorf("notifier called %d times, want 1", len(notifier.Changes))
	}
}
