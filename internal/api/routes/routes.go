package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/japperJ/geogate/internal/api/handlers"
	"github.com/japperJ/geogate/internal/api/middleware"
	"github.com/japperJ/geogate/internal/cache"
	"github.com/japperJ/geogate/internal/gate"
	"github.com/japperJ/geogate/internal/models"
	"github.com/japperJ/geogate/internal/services"
)

// Deps bundles the shared components handed to the route tree.
type Deps struct {
	DB       *gorm.DB
	Engine   *gate.Engine
	Policies *cache.PolicyCache
	Audits   *services.AuditService
	Sites    *services.SitePolicyService
	Registry *prometheus.Registry
	Verbose  bool
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, deps Deps) error {
	if err := deps.DB.AutoMigrate(
		&models.SitePolicy{},
		&models.AccessLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	router.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery(deps.Verbose))

	router.GET("/api/v1/health", handlers.HealthHandler)
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	gateHandler := handlers.NewGateHandler(deps.Engine)
	api.POST("/gate/check", gateHandler.Check)
	api.GET("/gate/check", gateHandler.Check)

	logHandler := handlers.NewAccessLogHandler(deps.Audits)
	api.GET("/logs", logHandler.List)
	api.GET("/logs/export", logHandler.Export)

	siteHandler := handlers.NewSiteHandler(deps.Sites)
	api.POST("/sites", siteHandler.Create)
	api.GET("/sites", siteHandler.List)
	api.GET("/sites/:id", siteHandler.Get)
	api.PUT("/sites/:id", siteHandler.Update)
	api.DELETE("/sites/:id", siteHandler.Delete)

	api.GET("/cache/stats", handlers.CacheStatsHandler(deps.Policies))

	return nil
}
