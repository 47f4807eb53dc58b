// Package evidence implements the screenshot capture pipeline: denied
// requests enqueue a job, a bounded worker pool renders the blocked page,
// uploads the image to object storage and links it back to the audit row.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/models"
)

// TypeScreenshot is the asynq task type for evidence capture jobs.
const TypeScreenshot = "evidence:screenshot"

// QueueName is the asynq queue dedicated to evidence jobs.
const QueueName = "evidence"

// AsynqEnqueuer schedules capture jobs on the shared Redis-backed queue.
type AsynqEnqueuer struct {
	client    *asynq.Client
	maxRetry  int
	retention time.Duration
}

// NewAsynqEnqueuer wraps an asynq client. maxRetry must be at least 3 so a
// transient renderer failure does not lose evidence; completed tasks are
// retained for the given duration before asynq prunes them.
func NewAsynqEnqueuer(client *asynq.Client, maxRetry int, retention time.Duration) *AsynqEnqueuer {
	if maxRetry < 3 {
		maxRetry = 3
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &AsynqEnqueuer{client: client, maxRetry: maxRetry, retention: retention}
}

// Enqueue schedules one capture job.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, payload models.ScreenshotJobPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal screenshot job: %w", err)
	}

	task := asynq.NewTask(TypeScreenshot, raw)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(e.maxRetry),
		asynq.Timeout(2*time.Minute),
		asynq.Retention(e.retention),
	)
	if err != nil {
		return fmt.Errorf("enqueue screenshot job: %w", err)
	}
	return nil
}

// SyncEnqueuer runs the job handler inline; used by tests for deterministic
// end-to-end assertions.
type SyncEnqueuer struct {
	Handler func(ctx context.Context, payload models.ScreenshotJobPayload) error
	Err     error
}

// Enqueue invokes the handler immediately.
func (e *SyncEnqueuer) Enqueue(ctx context.Context, payload models.ScreenshotJobPayload) error {
	if e.Err != nil {
		return e.Err
	}
	if e.Handler == nil {
		return nil
	}
	return e.Handler(ctx, payload)
}

// EnsureNoEviction checks that Redis will not silently drop queued jobs under
// memory pressure. A dropped job means permanently missing evidence, so the
// policy is forced to noeviction; failures are logged, not fatal, because the
// instance may forbid CONFIG commands.
func EnsureNoEviction(ctx context.Context, client *redis.Client) {
	res, err := client.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).
			Warn("could not read redis maxmemory-policy")
		return
	}
	if policy, ok := res["maxmemory-policy"]; ok && policy == "noeviction" {
		return
	}

	if err := client.ConfigSet(ctx, "maxmemory-policy", "noeviction").Err(); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).
			Warn("could not set redis maxmemory-policy to noeviction; queued evidence jobs may be dropped under memory pressure")
		return
	}
	logger.Log().Info("redis maxmemory-policy set to noeviction")
}
