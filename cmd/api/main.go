package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/japperJ/geogate/internal/api/routes"
	"github.com/japperJ/geogate/internal/cache"
	"github.com/japperJ/geogate/internal/config"
	"github.com/japperJ/geogate/internal/database"
	"github.com/japperJ/geogate/internal/evidence"
	"github.com/japperJ/geogate/internal/gate"
	"github.com/japperJ/geogate/internal/geoip"
	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/metrics"
	"github.com/japperJ/geogate/internal/server"
	"github.com/japperJ/geogate/internal/services"
	"github.com/japperJ/geogate/internal/version"
)

func main() {
	logDir := getLogDir()
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "geogate.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(cfg.Environment == "development", io.MultiWriter(os.Stdout, rotator))
	logger.Log().Infof("starting %s api %s", version.Name, version.Full())

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var (
		kv       cache.KV
		bus      cache.Bus
		enqueuer gate.Enqueuer
	)
	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	redisUp := redisClient.Ping(pingCtx).Err() == nil
	cancelPing()
	if redisUp {
		evidence.EnsureNoEviction(ctx, redisClient)
		kv = cache.NewRedisKV(redisClient)
		bus = cache.NewRedisBus(redisClient)
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		enqueuer = evidence.NewAsynqEnqueuer(asynqClient, cfg.Evidence.MaxRetry, cfg.Evidence.CompletedTTL)
	} else {
		logger.Log().Warn("redis unreachable: policy cache runs process-local, evidence capture disabled")
		kv = cache.NewMemoryKV()
		bus = cache.NewMemoryBus()
	}

	sites := services.NewSitePolicyService(db, nil)
	policies, err := cache.New(kv, bus, sites.GetByHostname, cache.Options{
		MemorySize:     cfg.Cache.MemorySize,
		MemoryTTL:      cfg.Cache.MemoryTTL,
		DistributedTTL: cfg.Cache.DistributedTTL,
	})
	if err != nil {
		log.Fatalf("create policy cache: %v", err)
	}
	sites.AttachCache(policies)
	if err := policies.Start(ctx); err != nil {
		log.Fatalf("subscribe to invalidations: %v", err)
	}

	resolver := geoip.NewMaxMindResolver(cfg.GeoIP.CityDBPath, cfg.GeoIP.AnonymousDBPath, geoip.Options{
		CacheSize: cfg.GeoIP.CacheSize,
		CacheTTL:  cfg.GeoIP.CacheTTL,
	})
	defer resolver.Close()

	audits := services.NewAuditService(db, cfg.Audit.QueueSize)
	defer audits.Close()

	engine := gate.NewEngine(policies, resolver, audits, enqueuer, gate.Options{
		MaxGPSAccuracyMeters: cfg.Decision.MaxGPSAccuracyMeters,
		MaxGPSIPDistanceKM:   cfg.Decision.MaxGPSIPDistanceKM,
		LookupTimeout:        cfg.Decision.LookupTimeout,
	})

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@daily", func() {
		pruned, err := audits.PruneOlderThan(cfg.Audit.RetentionDays)
		if err != nil {
			logger.WithFields(map[string]interface{}{"error": err.Error()}).Error("audit retention sweep failed")
			return
		}
		logger.WithFields(map[string]interface{}{"rows": pruned}).Info("audit retention sweep complete")
	}); err != nil {
		log.Fatalf("schedule retention sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv, err := server.New(cfg, routes.Deps{
		DB:       db,
		Engine:   engine,
		Policies: policies,
		Audits:   audits,
		Sites:    sites,
		Registry: registry,
	})
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	logger.Log().Infof("listening on :%s", cfg.HTTPPort)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getLogDir() string {
	logDir := "/app/data/logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to local directory if /app/data fails (e.g. local dev)
		logDir = filepath.Join("data", "logs")
		_ = os.MkdirAll(logDir, 0755)
	}
	return logDir
}
