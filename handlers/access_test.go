package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/accessctl/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAuthorizer
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Can(ctx context.Context, userID string, resourceType authz.ResourceType, resourceID string, action authz.Action, opts ...authz.CheckOption) (bool, error) {
	args := m.Called(ctx, userID, resourceType, resourceID, action)
	return args.Bool(0), args.Error(1)
}

func (m *MockAuthorizer) AccessibleResourceIDs(ctx context.Context, userID string, resourceType authz.ResourceType) (authz.AccessibleSet, error) {
	args := m.Called(ctx, userID, resourceType)
	return args.Get(0).(authz.AccessibleSet), args.Error(1)
}

func (m *MockAuthorizer) EffectivePermissions(ctx context.Context, userID string) (*authz.EffectivePermissions, error) {
	args := m.Called(ctx, userID)
	perms, _ := args.Get(0).(*authz.EffectivePermissions)
	return perms, args.Error(1)
}

// asUser stands in for the bearer middleware
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func newAccessRouter(h *AccessHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asUser(userID))
	r.GET("/me/permissions", h.GetMyPermissions)
	r.GET("/access/:resource_type", h.GetAccessibleResources)
	r.GET("/access/:resource_type/:resource_id", h.ListResourceAccess)
	r.POST("/access/:resource_type/:resource_id", h.GrantAccess)
	r.PATCH("/access/:resource_type/:resource_id/:user_id", h.UpdateAccess)
	r.DELETE("/access/:resource_type/:resource_id/:user_id", h.RevokeAccess)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAccessHandler_GetMyPermissions(t *testing.T) {
	mockAuthorizer := new(MockAuthorizer)
	h := NewAccessHandler(nil, mockAuthorizer)

	t.Run("Snapshot", func(t *testing.T) {
		perms := &authz.EffectivePermissions{
			UserID:      "user-1",
			Roles:       []string{"viewer"},
			Permissions: map[authz.ResourceType]authz.ActionSet{authz.ResourceObject: authz.NewActionSet(authz.ActionRead)},
		}
		mockAuthorizer.On("EffectivePermissions", mock.Anything, "user-1").Return(perms, nil).Once()

		w := doJSON(newAccessRouter(h, "user-1"), http.MethodGet, "/me/permissions", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "user-1", got["user_id"])
		assert.Equal(t, []interface{}{"read"}, got["permissions"].(map[string]interface{})["object"])
	})

	t.Run("StoreFailure", func(t *testing.T) {
		mockAuthorizer.On("EffectivePermissions", mock.Anything, "user-2").Return(nil, errors.New("connection refused")).Once()

		w := doJSON(newAccessRouter(h, "user-2"), http.MethodGet, "/me/permissions", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		w := doJSON(newAccessRouter(h, ""), http.MethodGet, "/me/permissions", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	mockAuthorizer.AssertExpectations(t)
}

func TestAccessHandler_GetAccessibleResources(t *testing.T) {
	mockAuthorizer := new(MockAuthorizer)
	h := NewAccessHandler(nil, mockAuthorizer)
	r := newAccessRouter(h, "user-1")

	mockAuthorizer.On("AccessibleResourceIDs", mock.Anything, "user-1", authz.ResourceEvidence).
		Return(authz.AccessibleSet{IDs: []string{"ev-1", "ev-2"}}, nil).Once()

	w := doJSON(r, http.MethodGet, "/access/evidence", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"resource_type":"evidence","all":false,"ids":["ev-1","ev-2"]}`, w.Body.String())

	// Hyphenated names are accepted at the boundary.
	mockAuthorizer.On("AccessibleResourceIDs", mock.Anything, "user-1", authz.ResourceAuditLog).
		Return(authz.AccessibleSet{All: true, IDs: []string{}}, nil).Once()
	w = doJSON(r, http.MethodGet, "/access/audit-log", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/access/organization", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	mockAuthorizer.AssertExpectations(t)
}

func TestAccessHandler_GrantLifecycle(t *testing.T) {
	ctx := context.Background()
	store := authz.NewMemoryStore()
	engine := authz.NewEngine(store.Stores())
	service := authz.NewAccessService(engine, store, nil)
	h := NewAccessHandler(service, engine)

	_, err := service.CreateCreatorAccess(ctx, authz.ResourceObject, "obj-1", "owner")
	require.NoError(t, err)

	owner := newAccessRouter(h, "owner")
	stranger := newAccessRouter(h, "stranger")

	t.Run("GrantByOwner", func(t *testing.T) {
		w := doJSON(owner, http.MethodPost, "/access/object/obj-1", gin.H{"user_id": "user-2", "actions": []string{"read"}})
		assert.Equal(t, http.StatusOK, w.Code)

		var access authz.ResourceAccess
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &access))
		assert.Equal(t, "user-2", access.UserID)
		assert.Equal(t, "owner", access.GrantedByID)
		assert.Equal(t, authz.NewActionSet(authz.ActionRead), access.Actions)
	})

	t.Run("GrantByStrangerForbidden", func(t *testing.T) {
		w := doJSON(stranger, http.MethodPost, "/access/object/obj-1", gin.H{"user_id": "stranger", "actions": []string{"manage"}})
		assert.Equal(t, http.StatusForbidden, w.Code)

		ok, err := engine.Can(ctx, "stranger", authz.ResourceObject, "obj-1", authz.ActionRead)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InvalidBody", func(t *testing.T) {
		w := doJSON(owner, http.MethodPost, "/access/object/obj-1", gin.H{"user_id": "user-3", "actions": []string{"fly"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(owner, http.MethodPost, "/access/object/obj-1", gin.H{"actions": []string{"read"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Update", func(t *testing.T) {
		w := doJSON(owner, http.MethodPatch, "/access/object/obj-1/user-2", gin.H{"actions": []string{"read", "update"}})
		assert.Equal(t, http.StatusOK, w.Code)

		ok, err := engine.Can(ctx, "user-2", authz.ResourceObject, "obj-1", authz.ActionUpdate)
		require.NoError(t, err)
		assert.True(t, ok)

		w = doJSON(owner, http.MethodPatch, "/access/object/obj-1/nobody", gin.H{"actions": []string{"read"}})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("List", func(t *testing.T) {
		w := doJSON(owner, http.MethodGet, "/access/object/obj-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Entries []authz.ResourceAccess `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Entries, 2)

		w = doJSON(stranger, http.MethodGet, "/access/object/obj-1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Revoke", func(t *testing.T) {
		w := doJSON(owner, http.MethodDelete, "/access/object/obj-1/user-2", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(owner, http.MethodDelete, "/access/object/obj-1/user-2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"forbidden", authz.ErrForbidden, http.StatusForbidden},
		{"not found", authz.ErrNotFound, http.StatusNotFound},
		{"invalid argument", authz.ErrInvalidArgument, http.StatusBadRequest},
		{"already exists", authz.ErrAlreadyExists, http.StatusConflict},
		{"system role", authz.ErrSystemRole, http.StatusConflict},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	gin.SetMode(gin.TestMode)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
