package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/phonginreallife/accessctl/authz"
	"github.com/phonginreallife/accessctl/handlers"
	"github.com/phonginreallife/accessctl/internal/config"
)

// AdminRouteRules guards every administrative route. A route registered under
// /api/admin without an entry here is rejected by the checkpoint.
var AdminRouteRules = authz.RouteRules{
	"GET /api/admin/roles":                  authz.Rule(authz.ResourceRole, authz.ActionRead),
	"POST /api/admin/roles":                 authz.Rule(authz.ResourceRole, authz.ActionManage),
	"DELETE /api/admin/roles/:id":           authz.Rule(authz.ResourceRole, authz.ActionManage),
	"PUT /api/admin/roles/:id/permissions":  authz.Rule(authz.ResourceRole, authz.ActionManage),
	"PUT /api/admin/users/:id/roles":        authz.Rule(authz.ResourceUser, authz.ActionManage),
	"PUT /api/admin/users/:id/groups":       authz.Rule(authz.ResourceUser, authz.ActionManage),
	"PUT /api/admin/users/:id/permissions":  authz.Rule(authz.ResourceUser, authz.ActionManage),
	"GET /api/admin/groups":                 authz.Rule(authz.ResourceUserGroup, authz.ActionRead),
	"POST /api/admin/groups":                authz.Rule(authz.ResourceUserGroup, authz.ActionManage),
	"DELETE /api/admin/groups/:id":          authz.Rule(authz.ResourceUserGroup, authz.ActionManage),
	"PUT /api/admin/groups/:id/members":     authz.Rule(authz.ResourceUserGroup, authz.ActionManage),
	"PUT /api/admin/groups/:id/roles":       authz.Rule(authz.ResourceUserGroup, authz.ActionManage),
	"PUT /api/admin/groups/:id/permissions": authz.Rule(authz.ResourceUserGroup, authz.ActionManage),
}

// Dependencies are the components the router wires into handlers.
type Dependencies struct {
	Stores   authz.Stores
	Notifier authz.ChangeNotifier
	Auth     gin.HandlerFunc
	Options  []authz.EngineOption
}

func NewGinRouter(pg *sql.DB, redis *redis.Client) *gin.Engine {
	return NewRouter(Dependencies{
		Stores:   authz.NewSimpleBackend(pg),
		Notifier: authz.NewRedisNotifier(redis, config.App.Authz.ChangeQueue),
		Auth:     handlers.NewBearerAuthMiddleware(config.App.JWTSecret).RequireAuth(),
		Options:  []authz.EngineOption{authz.WithAdminRoleSlug(config.App.Authz.AdminRoleSlug)},
	})
}

// NewRouter builds the gin engine from explicit dependencies.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize authz components
	engine := authz.NewEngine(deps.Stores, deps.Options...)
	accessService := authz.NewAccessService(engine, deps.Stores.Access, deps.Notifier)
	adminService := authz.NewAdminService(engine, deps.Stores)
	checkpoint := authz.NewCheckpoint(engine)

	// Initialize handlers
	accessHandler := handlers.NewAccessHandler(accessService, engine)
	adminHandler := handlers.NewAdminHandler(adminService)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(deps.Auth)
	{
		api.GET("/me/permissions", accessHandler.GetMyPermissions)

		// Instance ACL. The services check manage on the instance themselves.
		access := api.Group("/access")
		{
			access.GET("/:resource_type", accessHandler.GetAccessibleResources)
			access.GET("/:resource_type/:resource_id", accessHandler.ListResourceAccess)
			access.POST("/:resource_type/:resource_id", accessHandler.GrantAccess)
			access.PATCH("/:resource_type/:resource_id/:user_id", accessHandler.UpdateAccess)
			access.DELETE("/:resource_type/:resource_id/:user_id", accessHandler.RevokeAccess)
		}

		admin := api.Group("/admin")
		admin.Use(checkpoint.RequireRoute(AdminRouteRules))
		{
			admin.GET("/roles", adminHandler.ListRoles)
			admin.POST("/roles", adminHandler.CreateRole)
			admin.DELETE("/roles/:id", adminHandler.DeleteRole)
			admin.PUT("/roles/:id/permissions", adminHandler.ReplaceRolePermissions)

			admin.PUT("/users/:id/roles", adminHandler.ReplaceUserRoles)
			admin.PUT("/users/:id/groups", adminHandler.ReplaceUserGroups)
			admin.PUT("/users/:id/permissions", adminHandler.ReplaceUserPermissions)

			admin.GET("/groups", adminHandler.ListGroups)
			admin.POST("/groups", adminHandler.CreateGroup)
			admin.DELETE("/groups/:id", adminHandler.DeleteGroup)
			admin.PUT("/groups/:id/members", adminHandler.ReplaceGroupMembers)
			admin.PUT("/groups/:id/roles", adminHandler.ReplaceGroupRoles)
			admin.PUT("/groups/:id/permissions", adminHandler.ReplaceGroupPermissions)
		}
	}

	return r
}
