package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/armonia-contable/armonia/internal/balance"
	jobmetrics "github.com/armonia-contable/armonia/internal/jobs"
	"github.com/armonia-contable/armonia/internal/ledger"
)

// TaskBalanceIntegrity recomputes balances of a fiscal year from its
// approved vouchers and compares them with the incremental totals.
const TaskBalanceIntegrity = "ledger:balance-integrity"

const integrityJob = "balance_integrity"

// IntegrityPayload selects the fiscal year to scan. A zero Year scans the
// current calendar year.
type IntegrityPayload struct {
	EntityID int64 `json:"entity_id"`
	Year     int   `json:"year,omitempty"`
}

// NewBalanceIntegrityTask constructs the scan task.
func NewBalanceIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceIntegrity, data, asynq.MaxRetry(1), asynq.Timeout(10*time.Minute)), nil
}

// Verifier is implemented by *balance.Aggregator.
type Verifier interface {
	Verify(ctx context.Context, scope ledger.Scope) (balance.Report, error)
}

// IntegrityHandler runs balance verification for queued scopes.
type IntegrityHandler struct {
	verifier Verifier
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewIntegrityHandler constructs the handler.
func NewIntegrityHandler(verifier Verifier, metrics *jobmetrics.Metrics, logger *slog.Logger) *IntegrityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityHandler{verifier: verifier, metrics: metrics, logger: logger, now: time.Now}
}

// ProcessTask implements asynq.Handler.
func (h *IntegrityHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode integrity payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.EntityID <= 0 {
		return fmt.Errorf("integrity payload without entity: %w", asynq.SkipRetry)
	}
	if payload.Year == 0 {
		payload.Year = h.now().Year()
	}
	_, err := h.Run(ctx, ledger.Scope{EntityID: payload.EntityID, Year: payload.Year})
	return err
}

// Run verifies one scope, publishes the mismatch gauge and logs the
// offending rows. Mismatches are reported, not returned as errors.
func (h *IntegrityHandler) Run(ctx context.Context, scope ledger.Scope) (balance.Report, error) {
	tracker := h.metrics.Track(integrityJob)
	report, err := h.verifier.Verify(ctx, scope)
	if err != nil {
		h.logger.Error("balance integrity", slog.String("scope", scope.String()), slog.Any("error", err))
		return balance.Report{}, tracker.End(err)
	}
	bad := len(report.Mismatches) + len(report.Unbalanced)
	h.metrics.SetIntegrity(scope.EntityID, scope.Year, bad)
	if report.OK() {
		h.logger.Info("balance integrity ok",
			slog.String("job", integrityJob),
			slog.String("scope", scope.String()),
			slog.Int("vouchers", report.Vouchers),
			slog.Int("rows", report.Rows))
		return report, tracker.End(nil)
	}
	for _, m := range report.Mismatches {
		h.logger.Warn("balance mismatch", slog.String("scope", scope.String()), slog.Any("mismatch", m))
	}
	for _, id := range report.Unbalanced {
		h.logger.Warn("unbalanced approved voucher", slog.String("scope", scope.String()), slog.Int64("voucher_id", id))
	}
	return report, tracker.End(nil)
}
