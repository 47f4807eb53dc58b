package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GG_DB_PATH", filepath.Join(t.TempDir(), "geogate.db"))

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 1000, cfg.Cache.MemorySize)
	assert.Equal(t, 60*time.Second, cfg.Cache.MemoryTTL)
	assert.Equal(t, 300*time.Second, cfg.Cache.DistributedTTL)
	assert.Equal(t, 100.0, cfg.Decision.MaxGPSAccuracyMeters)
	assert.Equal(t, 500.0, cfg.Decision.MaxGPSIPDistanceKM)
	assert.Equal(t, 3, cfg.Evidence.MaxRetry)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GG_DB_PATH", filepath.Join(t.TempDir(), "geogate.db"))
	t.Setenv("GG_ENV", "production")
	t.Setenv("GG_HTTP_PORT", "9090")
	t.Setenv("GG_CACHE_MEMORY_TTL", "15s")
	t.Setenv("GG_MAX_GPS_IP_DISTANCE_KM", "250")
	t.Setenv("GG_MINIO_USE_SSL", "true")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 15*time.Second, cfg.Cache.MemoryTTL)
	assert.Equal(t, 250.0, cfg.Decision.MaxGPSIPDistanceKM)
	assert.True(t, cfg.Evidence.MinioUseSSL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("GG_DB_PATH", filepath.Join(t.TempDir(), "geogate.db"))
	t.Setenv("GG_CACHE_MEMORY_SIZE", "lots")
	t.Setenv("GG_CACHE_MEMORY_TTL", "soon")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, 1000, cfg.Cache.MemorySize)
	assert.Equal(t, 60*time.Second, cfg.Cache.MemoryTTL)
}
