package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCheckpointRouter(f *fixture, userID string, register func(r *gin.Engine, m *Checkpoint)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	register(r, NewCheckpoint(f.engine))
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestCheckpoint_Require(t *testing.T) {
	f := newFixture(t)
	viewer := f.role(t, "viewer", grant(ResourceObject, ActionRead))
	f.assignRoles(t, "user-v", viewer)
	f.acl(t, ResourceObject, "obj-1", "user-e", ActionUpdate)

	tests := []struct {
		name       string
		userID     string
		method     string
		path       string
		wantStatus int
	}{
		{"anonymous", "", http.MethodGet, "/objects/obj-1", http.StatusUnauthorized},
		{"global read", "user-v", http.MethodGet, "/objects/obj-1", http.StatusOK},
		{"global read does not allow update", "user-v", http.MethodPatch, "/objects/obj-1", http.StatusForbidden},
		{"acl update", "user-e", http.MethodPatch, "/objects/obj-1", http.StatusOK},
		{"acl update on other instance", "user-e", http.MethodPatch, "/objects/obj-2", http.StatusForbidden},
		{"no grants", "user-x", http.MethodGet, "/objects/obj-1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCheckpointRouter(f, tt.userID, func(r *gin.Engine, m *Checkpoint) {
				ok := func(c *gin.Context) { c.Status(http.StatusOK) }
				r.GET("/objects/:object_id", m.Require(ResourceObject, ActionRead), ok)
				r.PATCH("/objects/:object_id", m.Require(ResourceObject, ActionUpdate), ok)
			})
			w := serve(r, tt.method, tt.path)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestCheckpoint_RequireRoute(t *testing.T) {
	f := newFixture(t)
	editor := f.role(t, "editor", grant(ResourceTask, ActionRead, ActionCreate))
	f.assignRoles(t, "user-e", editor)

	rules := RouteRules{
		"GET /tasks":         MethodRule(ResourceTask),
		"POST /tasks":        MethodRule(ResourceTask),
		"DELETE /tasks/:id":  MethodRule(ResourceTask),
		"POST /tasks/:id/go": Rule(ResourceTask, ActionManage),
	}

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"read from GET", http.MethodGet, "/tasks", http.StatusOK},
		{"create from POST", http.MethodPost, "/tasks", http.StatusOK},
		{"delete not granted", http.MethodDelete, "/tasks/t-1", http.StatusForbidden},
		{"fixed action rule", http.MethodPost, "/tasks/t-1/go", http.StatusForbidden},
		{"route without rule is rejected", http.MethodPut, "/tasks/t-1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCheckpointRouter(f, "user-e", func(r *gin.Engine, m *Checkpoint) {
				g := r.Group("/", m.RequireRoute(rules))
				ok := func(c *gin.Context) { c.Status(http.StatusOK) }
				g.GET("/tasks", ok)
				g.POST("/tasks", ok)
				g.PUT("/tasks/:id", ok)
				g.DELETE("/tasks/:id", ok)
				g.POST("/tasks/:id/go", ok)
			})
			w := serve(r, tt.method, tt.path)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestCheckpoint_StoresDeciderInContext(t *testing.T) {
	f := newFixture(t)
	viewer := f.role(t, "viewer", grant(ResourceReport, ActionRead))
	f.assignRoles(t, "user-v", viewer)

	var got *Decider
	r := newCheckpointRouter(f, "user-v", func(r *gin.Engine, m *Checkpoint) {
		r.GET("/reports/:id", m.Require(ResourceReport, ActionRead), func(c *gin.Context) {
			got = DeciderFromContext(c.Request.Context())
			c.Status(http.StatusOK)
		})
	})

	w := serve(r, http.MethodGet, "/reports/rep-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got == nil || got.UserID() != "user-v" {
		t.Errorf("DeciderFromContext() = %v, want decider for user-v", got)
	}
}

func TestCheckpoint_StoreFailure(t *testing.T) {
	store := NewMemoryStore()
	stores := store.Stores()
	stores.Roles = failingRoleStore{store}
	engine := NewEngine(stores)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", "user-1"); c.Next() })
	r.GET("/objects/:id", NewCheckpoint(engine).Require(ResourceObject, ActionRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := serve(r, http.MethodGet, "/objects/obj-1")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 on store failure", w.Code)
	}
}

func TestMethodToAction(t *testing.T) {
	tests := map[string]Action{
		http.MethodGet:     ActionRead,
		http.MethodHead:    ActionRead,
		http.MethodPost:    ActionCreate,
		http.MethodPut:     ActionUpdate,
		http.MethodPatch:   ActionUpdate,
		http.MethodDelete:  ActionDelete,
		http.MethodOptions: ActionRead,
	}
	for method, want := range tests {
		if got := MethodToAction(method); got != want {
			t.Errorf("MethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}
