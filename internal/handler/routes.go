package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/event-approval-api/internal/middleware"
	"github.com/noah-isme/event-approval-api/internal/models"
)

// Routes bundles the handlers mounted under the API prefix.
type Routes struct {
	Auth      *AuthHandler
	Users     *UserHandler
	Events    *EventHandler
	Approvals *ApprovalHandler
	Exports   *ExportHandler
	Metrics   *MetricsHandler

	Tokens     middleware.TokenValidator
	Audit      middleware.AuditWriter
	AdminRoles []string
	Logger     *zap.Logger
}

// Register mounts every route on r. Health and metrics live outside the prefix.
func (rt Routes) Register(r *gin.Engine, prefix string) {
	if rt.Metrics != nil {
		r.GET("/health", rt.Metrics.Health)
		r.GET("/ready", rt.Metrics.Ready)
		r.GET("/metrics", rt.Metrics.Prometheus)
	}

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())

	api.POST("/auth/login", rt.Auth.Login)
	if rt.Exports != nil {
		api.GET("/export/:token",
			middleware.Audit(rt.Audit, rt.Logger, models.AuditActionDownload, "exports"),
			rt.Exports.Download,
		)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(rt.Tokens))

	secured.GET("/auth/me", rt.Auth.Me)
	secured.POST("/auth/change-password", rt.Auth.ChangePassword)

	adminRoles := rt.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = []string{string(models.RolePrincipal)}
	}
	users := secured.Group("/users", middleware.RBAC(adminRoles...))
	users.GET("", rt.Users.List)
	users.POST("", rt.Users.Create)
	users.GET("/:id", rt.Users.Get)
	users.PUT("/:id", rt.Users.Update)
	users.DELETE("/:id", rt.Users.Delete)

	events := secured.Group("/events")
	events.POST("", rt.Events.Create)
	events.GET("", rt.Events.List)
	events.GET("/summary", rt.Events.Summary)
	events.GET("/:id", rt.Events.Get)
	events.DELETE("/:id", rt.Events.Delete)
	events.PUT("/:id/sections/:section", rt.Events.UpdateSection)
	events.GET("/:id/history", rt.Events.History)

	events.GET("/:id/approvers", rt.Approvals.Approvers)
	events.GET("/:id/actions", rt.Approvals.Actions)
	events.POST("/:id/approval", rt.Approvals.Request)
	events.DELETE("/:id/approval", rt.Approvals.Cancel)
	events.POST("/:id/decision", rt.Approvals.Decide)
	events.POST("/:id/review", rt.Approvals.Review)

	if rt.Exports != nil {
		events.GET("/:id/export", rt.Exports.ExportEvent)
		secured.POST("/exports", rt.Exports.CreateJob)
		secured.GET("/exports/:id", rt.Exports.Status)
	}
}
