package authz

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteRule binds a route to the resource type and action it is guarded by.
type RouteRule struct {
	ResourceType ResourceType
	Action       Action
	// FromMethod derives the action from the HTTP method instead of Action.
	FromMethod bool
}

// RouteRules maps "METHOD fullPath" (as reported by gin's FullPath) to a rule.
// Example: "DELETE /api/admin/roles/:id" -> {ResourceRole, ActionManage}
type RouteRules map[string]RouteRule

// Rule guards a route with a fixed action.
func Rule(resourceType ResourceType, action Action) RouteRule {
	return RouteRule{ResourceType: resourceType, Action: action}
}

// MethodRule guards a route with the action implied by its HTTP method.
func MethodRule(resourceType ResourceType) RouteRule {
	return RouteRule{ResourceType: resourceType, FromMethod: true}
}

// Checkpoint creates Gin middleware that evaluates the engine before a handler runs.
// It resolves the caller's Decider once and stores it in the request context, so
// every later Can in the same request reuses the loaded roles and grants.
type Checkpoint struct {
	Engine *Engine
}

// NewCheckpoint creates a new checkpoint middleware factory
func NewCheckpoint(engine *Engine) *Checkpoint {
	return &Checkpoint{Engine: engine}
}

// Require checks action on resourceType. The instance id is read from
// :<type>_id, then :id; without one the check is type-level.
// Usage: router.DELETE("/objects/:id", checkpoint.Require(authz.ResourceObject, authz.ActionDelete), handler)
func (m *Checkpoint) Require(resourceType ResourceType, action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.check(c, resourceType, action)
	}
}

// RequireRoute looks the matched route up in rules. Routes without a rule are
// rejected so a forgotten entry never opens a route.
// Usage: adminGroup.Use(checkpoint.RequireRoute(rules))
func (m *Checkpoint) RequireRoute(rules RouteRules) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.FullPath()
		rule, ok := rules[key]
		if !ok {
			log.Printf("AUTHZ DENIED - No rule for route %s", key)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You don't have permission to perform this action",
			})
			return
		}
		action := rule.Action
		if rule.FromMethod {
			action = MethodToAction(c.Request.Method)
		}
		m.check(c, rule.ResourceType, action)
	}
}

func (m *Checkpoint) check(c *gin.Context, resourceType ResourceType, action Action) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "User not authenticated",
		})
		return
	}

	ctx := c.Request.Context()
	d, err := m.Engine.decider(ctx, userID)
	if err != nil {
		log.Printf("AUTHZ ERROR - Failed to resolve permissions for user %s: %v", userID, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Authorization check failed",
		})
		return
	}
	c.Request = c.Request.WithContext(ContextWithDecider(ctx, d))

	resourceID := ResourceIDParam(c, resourceType)
	allowed, err := d.Can(c.Request.Context(), resourceType, resourceID, action)
	if err != nil {
		log.Printf("AUTHZ ERROR - User %s %s on %s %s: %v", userID, action, resourceType, resourceID, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Authorization check failed",
		})
		return
	}
	if !allowed {
		log.Printf("AUTHZ DENIED - User %s cannot %s on %s %s", userID, action, resourceType, resourceID)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to perform this action",
			"details": map[string]string{
				"action":        action.String(),
				"resource_type": string(resourceType),
				"resource_id":   resourceID,
			},
		})
		return
	}

	c.Next()
}

// ResourceIDParam returns the instance id for resourceType from the URL params.
// Naming convention: <type>_id, or id (fallback)
func ResourceIDParam(c *gin.Context, resourceType ResourceType) string {
	if id := c.Param(string(resourceType) + "_id"); id != "" {
		return id
	}
	return c.Param("id")
}

// MethodToAction maps HTTP methods to authorization actions
func MethodToAction(method string) Action {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionRead
	}
}
