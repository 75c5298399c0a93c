package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/armonia-contable/armonia/internal/jobs"
)

// TaskIdempotencyCleanup prunes expired Idempotency-Key records.
const TaskIdempotencyCleanup = "ledger:idempotency-cleanup"

const cleanupJob = "idempotency_cleanup"

// CleanupPayload carries the retention window.
type CleanupPayload struct {
	RetentionSeconds int64 `json:"retention_seconds"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive")
	}
	data, err := json.Marshal(CleanupPayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(2)), nil
}

// Cleaner is implemented by *shared.IdempotencyStore and *shared.IdempotencyBuffer.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// CleanupHandler runs idempotency pruning.
type CleanupHandler struct {
	cleaner Cleaner
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCleanupHandler constructs the handler.
func NewCleanupHandler(cleaner Cleaner, metrics *jobmetrics.Metrics, logger *slog.Logger) *CleanupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupHandler{cleaner: cleaner, metrics: metrics, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *CleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RetentionSeconds <= 0 {
		return fmt.Errorf("cleanup payload without retention: %w", asynq.SkipRetry)
	}
	retention := time.Duration(payload.RetentionSeconds) * time.Second
	tracker := h.metrics.Track(cleanupJob)
	if err := h.cleaner.Cleanup(ctx, retention); err != nil {
		h.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	h.logger.Info("idempotency cleanup done", slog.Duration("retention", retention))
	return tracker.End(nil)
}
