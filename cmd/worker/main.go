// The worker process drains the evidence queue: it renders blocked pages in
// headless Chrome, uploads screenshots to object storage and links them back
// to their audit rows. It can run on a different machine than the api
// process; the two share only Redis and the database.
package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/japperJ/geogate/internal/config"
	"github.com/japperJ/geogate/internal/database"
	"github.com/japperJ/geogate/internal/evidence"
	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/services"
	"github.com/japperJ/geogate/internal/version"
)

func main() {
	logDir := getLogDir()
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "geogate-worker.log"),
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
	logger.Log().Infof("starting %s worker %s", version.Name, version.Full())

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	audits := services.NewAuditService(db, cfg.Audit.QueueSize)
	defer audits.Close()

	store, err := evidence.NewMinioStore(context.Background(), evidence.MinioOptions{
		Endpoint:  cfg.Evidence.MinioEndpoint,
		AccessKey: cfg.Evidence.MinioAccessKey,
		SecretKey: cfg.Evidence.MinioSecretKey,
		Bucket:    cfg.Evidence.MinioBucket,
		UseSSL:    cfg.Evidence.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("connect object store: %v", err)
	}

	renderer := evidence.NewChromeRenderer(cfg.Evidence.RenderTimeout)
	worker := evidence.NewWorker(renderer, store, audits, cfg.Evidence.RatePerSecond)
	notifier := services.NewNotificationService(cfg.Evidence.NotificationURL)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	srv := evidence.NewServer(redisOpt, cfg.Evidence.Concurrency, notifier)

	mux := asynq.NewServeMux()
	mux.HandleFunc(evidence.TypeScreenshot, worker.HandleScreenshot)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}

func getLogDir() string {
	logDir := "/app/data/logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logDir = filepath.Join("data", "logs")
		_ = os.MkdirAll(logDir, 0755)
	}
	return logDir
}
