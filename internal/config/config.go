package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	Redis    RedisConfig
	GeoIP    GeoIPConfig
	Cache    CacheConfig
	Decision DecisionConfig
	Evidence EvidenceConfig
	Audit    AuditConfig
}

// RedisConfig holds connection settings for the shared Redis instance used by
// the distributed cache tier, the invalidation bus and the job queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GeoIPConfig points at the optional MaxMind database files. Either file may
// be absent; the corresponding signal degrades instead of failing the gate.
type GeoIPConfig struct {
	CityDBPath      string
	AnonymousDBPath string
	CacheSize       int
	CacheTTL        time.Duration
}

// CacheConfig tunes the site policy cache tiers.
type CacheConfig struct {
	MemorySize     int
	MemoryTTL      time.Duration
	DistributedTTL time.Duration
}

// DecisionConfig holds thresholds for the GPS checks.
type DecisionConfig struct {
	MaxGPSAccuracyMeters float64
	MaxGPSIPDistanceKM   float64
	LookupTimeout        time.Duration
}

// EvidenceConfig tunes the screenshot capture pipeline.
type EvidenceConfig struct {
	Concurrency     int
	RatePerSecond   float64
	MaxRetry        int
	RenderTimeout   time.Duration
	CompletedTTL    time.Duration
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	NotificationURL string
}

// AuditConfig tunes the audit logger.
type AuditConfig struct {
	QueueSize     int
	RetentionDays int
}

// Load reads env vars and falls back to defaults so the server can boot with
// zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:  getEnv("GG_ENV", "development"),
		HTTPPort:     getEnv("GG_HTTP_PORT", "8080"),
		DatabasePath: getEnv("GG_DB_PATH", filepath.Join("data", "geogate.db")),
		Redis: RedisConfig{
			Addr:     getEnv("GG_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("GG_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GG_REDIS_DB", 0),
		},
		GeoIP: GeoIPConfig{
			CityDBPath:      getEnv("GG_GEOIP_CITY_DB", ""),
			AnonymousDBPath: getEnv("GG_GEOIP_ANON_DB", ""),
			CacheSize:       getEnvInt("GG_GEOIP_CACHE_SIZE", 10000),
			CacheTTL:        getEnvDuration("GG_GEOIP_CACHE_TTL", time.Hour),
		},
		Cache: CacheConfig{
			MemorySize:     getEnvInt("GG_CACHE_MEMORY_SIZE", 1000),
			MemoryTTL:      getEnvDuration("GG_CACHE_MEMORY_TTL", 60*time.Second),
			DistributedTTL: getEnvDuration("GG_CACHE_DISTRIBUTED_TTL", 300*time.Second),
		},
		Decision: DecisionConfig{
			MaxGPSAccuracyMeters: getEnvFloat("GG_MAX_GPS_ACCURACY_M", 100),
			MaxGPSIPDistanceKM:   getEnvFloat("GG_MAX_GPS_IP_DISTANCE_KM", 500),
			LookupTimeout:        getEnvDuration("GG_LOOKUP_TIMEOUT", 2*time.Second),
		},
		Evidence: EvidenceConfig{
			Concurrency:     getEnvInt("GG_EVIDENCE_CONCURRENCY", 5),
			RatePerSecond:   getEnvFloat("GG_EVIDENCE_RATE", 10),
			MaxRetry:        getEnvInt("GG_EVIDENCE_MAX_RETRY", 3),
			RenderTimeout:   getEnvDuration("GG_EVIDENCE_RENDER_TIMEOUT", 30*time.Second),
			CompletedTTL:    getEnvDuration("GG_EVIDENCE_COMPLETED_TTL", 24*time.Hour),
			MinioEndpoint:   getEnv("GG_MINIO_ENDPOINT", "localhost:9000"),
			MinioAccessKey:  getEnv("GG_MINIO_ACCESS_KEY", "minioadmin"),
			MinioSecretKey:  getEnv("GG_MINIO_SECRET_KEY", "minioadmin"),
			MinioBucket:     getEnv("GG_MINIO_BUCKET", "geogate-evidence"),
			MinioUseSSL:     getEnvBool("GG_MINIO_USE_SSL", false),
			NotificationURL: getEnv("GG_NOTIFY_URL", ""),
		},
		Audit: AuditConfig{
			QueueSize:     getEnvInt("GG_AUDIT_QUEUE_SIZE", 1024),
			RetentionDays: getEnvInt("GG_AUDIT_RETENTION_DAYS", 90),
		},
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}

	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}

	return fallback
}
