package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/metrics"
	"github.com/japperJ/geogate/internal/models"
)

// AuditLinker attaches a stored screenshot to its audit row. Satisfied by
// services.AuditService.
type AuditLinker interface {
	AttachScreenshot(logUUID string, siteID uint, ts time.Time, screenshotURL string) error
}

// FailureNotifier is told when a job exhausts its retries. Satisfied by
// services.NotificationService.
type FailureNotifier interface {
	NotifyEvidenceFailure(siteID uint, targetURL string, cause error)
}

// Worker processes screenshot capture jobs: render, upload, link.
type Worker struct {
	renderer Renderer
	store    ObjectStore
	audits   AuditLinker
	limiter  *rate.Limiter
}

// WorkerOptions tunes the worker pool.
type WorkerOptions struct {
	Concurrency   int
	RatePerSecond float64
}

// NewWorker builds a worker with a rate limiter bounding headless-browser
// usage.
func NewWorker(renderer Renderer, store ObjectStore, audits AuditLinker, ratePerSecond float64) *Worker {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &Worker{
		renderer: renderer,
		store:    store,
		audits:   audits,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

// HandleScreenshot is the asynq handler for TypeScreenshot tasks. Returning
// an error triggers the retry/backoff policy; the stored locator is written
// back as the task result for inspection tooling.
func (w *Worker) HandleScreenshot(ctx context.Context, task *asynq.Task) error {
	var payload models.ScreenshotJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that never parses will never parse; do not retry.
		return fmt.Errorf("unmarshal screenshot job: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.Process(ctx, payload)
	if err != nil {
		return err
	}
	if rw := task.ResultWriter(); rw != nil {
		if raw, err := json.Marshal(result); err == nil {
			_, _ = rw.Write(raw)
		}
	}
	return nil
}

// Process runs one capture job end to end.
func (w *Worker) Process(ctx context.Context, payload models.ScreenshotJobPayload) (models.ScreenshotJobResult, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return models.ScreenshotJobResult{}, err
	}

	img, err := w.renderer.Render(ctx, payload.URL)
	if err != nil {
		return models.ScreenshotJobResult{}, fmt.Errorf("render blocked page: %w", err)
	}

	key := ObjectKey(payload)
	locator, err := w.store.Put(ctx, key, img)
	if err != nil {
		return models.ScreenshotJobResult{}, fmt.Errorf("store screenshot: %w", err)
	}

	if err := w.audits.AttachScreenshot(payload.LogUUID, payload.SiteID, payload.Timestamp, locator); err != nil {
		// The image is safe in object storage; only the link is missing.
		// Retrying re-renders, which is acceptable and keeps the job atomic.
		return models.ScreenshotJobResult{}, fmt.Errorf("link screenshot to audit row: %w", err)
	}

	metrics.IncScreenshotCaptured()
	logger.WithFields(map[string]interface{}{
		"site_id": payload.SiteID,
		"reason":  payload.Reason,
		"key":     key,
	}).Info("evidence screenshot captured")
	return models.ScreenshotJobResult{ScreenshotURL: locator, Key: key}, nil
}

// ObjectKey derives the deterministic storage key for a job.
func ObjectKey(payload models.ScreenshotJobPayload) string {
	return fmt.Sprintf("screenshots/blocked/%d/%d-%s.png",
		payload.SiteID, payload.Timestamp.UnixMilli(), uuid.NewString())
}

// RetryDelay implements exponential backoff for failed capture jobs.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return time.Duration(math.Pow(2, float64(n))) * 10 * time.Second
}

// NewServer builds the asynq server for the evidence queue with bounded
// concurrency. The returned server is not yet running; register the worker's
// handler on a mux and call Run.
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, notifier FailureNotifier) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{QueueName: 1},
		RetryDelayFunc: RetryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried < maxRetry {
				return
			}

			// Exhausted: asynq archives the task for manual inspection.
			metrics.IncScreenshotFailed()
			var payload models.ScreenshotJobPayload
			if jsonErr := json.Unmarshal(task.Payload(), &payload); jsonErr != nil {
				logger.WithFields(map[string]interface{}{"error": err.Error()}).
					Error("evidence job exhausted retries with unreadable payload")
				return
			}
			logger.WithFields(map[string]interface{}{
				"site_id": payload.SiteID,
				"url":     payload.URL,
				"error":   err.Error(),
			}).Error("evidence job exhausted retries, archived")
			if notifier != nil {
				notifier.NotifyEvidenceFailure(payload.SiteID, payload.URL, err)
			}
		}),
	})
}
