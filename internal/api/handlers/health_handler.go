package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/japperJ/geogate/internal/cache"
	"github.com/japperJ/geogate/internal/version"
)

// HealthHandler responds with basic service metadata for uptime checks.
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"service":    version.Name,
		"version":    version.Version,
		"git_commit": version.GitCommit,
		"build_time": version.BuildTime,
	})
}

// CacheStatsHandler exposes per-tier policy cache hit counters for capacity
// planning.
func CacheStatsHandler(policies *cache.PolicyCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, policies.Stats())
	}
}
