package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"startupai/internal/handler"
	"startupai/pkg/otel"
	"startupai/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	projectHandler *handler.ProjectHandler,
	checkpointHandler *handler.CheckpointHandler,
	adminHandler *handler.AdminHandler,
	jwtSecret string,
	db *pgxpool.Pool,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(otel.GinMiddleware("orchestrator"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/projects", RequirePermission(rbac.PermissionCreateProject), projectHandler.CreateProject)
		auth.GET("/projects", RequirePermission(rbac.PermissionReadProject), projectHandler.List)
		auth.GET("/projects/:id/state", RequirePermission(rbac.PermissionReadProject), projectHandler.GetState)
		auth.POST("/projects/:id/phases/:phase/start", RequirePermission(rbac.PermissionStartPhase), projectHandler.StartPhase)
		auth.POST("/projects/:id/checkpoints", RequirePermission(rbac.PermissionRequestCheckpoint), checkpointHandler.Create)

		auth.GET("/checkpoints/:id", RequirePermission(rbac.PermissionReadProject), checkpointHandler.Get)
		auth.POST("/checkpoints/:id/resolve", RequirePermission(rbac.PermissionResolveCheckpoint), checkpointHandler.Resolve)

		admin := auth.Group("/admin")
		admin.Use(RequirePermission(rbac.PermissionReplayOutbox))
		{
			admin.GET("/outbox/failed", adminHandler.ListFailedEvents)
			admin.POST("/outbox/:id/replay", adminHandler.ReplayEvent)
			admin.POST("/outbox/replay-failed", adminHandler.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
