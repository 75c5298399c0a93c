package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/budget"
	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/closing"
	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/journal"
	"github.com/armonia-contable/armonia/internal/ledger"
	ledgerhttp "github.com/armonia-contable/armonia/internal/ledger/http"
	"github.com/armonia-contable/armonia/internal/ledger/memory"
	"github.com/armonia-contable/armonia/internal/ledger/postgres"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/observability"
	"github.com/armonia-contable/armonia/internal/platform/cache"
	"github.com/armonia-contable/armonia/internal/platform/db"
	"github.com/armonia-contable/armonia/internal/platform/lock"
	"github.com/armonia-contable/armonia/internal/shared"
	"github.com/armonia-contable/armonia/jobs"
)

type auditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine holds the wired ledger services and the connections they use.
type Engine struct {
	Store       ledger.RepositoryPort
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Catalog     *catalog.Service
	Matrix      *conversion.Matrix
	Budget      *budget.Ledger
	Journal     *journal.Service
	Balances    *balance.Aggregator
	Closing     *closing.Service
	Idempotency ledgerhttp.IdempotencyPort

	notifier *notify.Async
	queue    *jobs.Client
	logger   *slog.Logger
}

// BuildEngine connects the configured store and wires every service. Redis
// is optional: without it notifications are dropped and closes rely on the
// store serialization alone.
func BuildEngine(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}

	var (
		audit     auditSink
		approvals journal.ApprovalPort
	)
	switch cfg.StoreDriver {
	case DriverMemory:
		e.Store = memory.NewStore()
		audit = &shared.AuditBuffer{}
		approvals = &shared.ApprovalBuffer{}
		e.Idempotency = &shared.IdempotencyBuffer{}
	default:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		e.Pool = pool
		if cfg.PGMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("schema migrated")
		}
		e.Store = postgres.NewStore(pool)
		audit = shared.NewAuditLogger(pool)
		approvals = shared.NewApprovalRecorder(pool, logger)
		e.Idempotency = shared.NewIdempotencyStore(pool)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, notifications disabled", slog.Any("error", err))
		} else {
			e.Redis = client
			queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			if err != nil {
				e.Close()
				return nil, fmt.Errorf("app: asynq client: %w", err)
			}
			e.queue = queue
			e.notifier = &notify.Async{Next: jobs.NewQueueNotifier(queue), Logger: logger}
			notifier = e.notifier
		}
	}

	ledgerMetrics := metrics.Ledger()

	e.Catalog = catalog.NewService(e.Store, audit, logger)
	e.Matrix = conversion.NewMatrix(e.Store, audit, logger)

	e.Budget = budget.NewLedger(e.Store, nil, audit, logger)
	e.Budget.WithMetrics(ledgerMetrics)

	e.Journal = journal.NewService(e.Store, audit, notifier, logger)
	e.Journal.WithApprovals(approvals)
	e.Journal.WithMetrics(ledgerMetrics)

	e.Balances = balance.NewAggregator(e.Store)

	e.Closing = closing.NewService(e.Store, audit, notifier, logger)
	e.Closing.WithResultAccount(cfg.ResultAccountCode)
	e.Closing.WithMetrics(ledgerMetrics)
	if e.Redis != nil {
		e.Closing.WithLocker(lock.New(e.Redis, lock.Options{Expiry: cfg.CloseLockTTL}))
	}
	return e, nil
}

// Services returns the handler view of the engine.
func (e *Engine) Services() ledgerhttp.Services {
	return ledgerhttp.Services{
		Catalog:     e.Catalog,
		Matrix:      e.Matrix,
		Budget:      e.Budget,
		Journal:     e.Journal,
		Balances:    e.Balances,
		Closing:     e.Closing,
		Idempotency: e.Idempotency,
	}
}

// Readiness lists the checks backing /readyz.
func (e *Engine) Readiness() []ReadinessCheck {
	var checks []ReadinessCheck
	if e.Pool != nil {
		checks = append(checks, ReadinessCheck{Name: "postgres", Check: e.Pool.Ping})
	}
	if e.Redis != nil {
		checks = append(checks, ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return cache.Ping(ctx, e.Redis)
		}})
	}
	return checks
}

// Close drains pending notifications and releases connections.
func (e *Engine) Close() {
	if e.notifier != nil {
		e.notifier.Wait()
	}
	if e.queue != nil {
		if err := e.queue.Close(); err != nil {
			e.logger.Warn("asynq client close", slog.Any("error", err))
		}
	}
	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			e.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}
