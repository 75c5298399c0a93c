package closing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/shared"
)

// Service drives the fiscal calendar.
type Service struct {
	repo          ledger.RepositoryPort
	audit         AuditPort
	notifier      notify.Notifier
	locker        Locker
	metrics       Metrics
	logger        *slog.Logger
	resultAccount string
	now           func() time.Time
}

// NewService constructs the closing service.
func NewService(repo ledger.RepositoryPort, audit AuditPort, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:          repo,
		audit:         audit,
		notifier:      notifier,
		logger:        logger,
		resultAccount: DefaultResultAccountCode,
		now:           time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithResultAccount sets the equity account receiving the year result.
func (s *Service) WithResultAccount(code string) {
	if code = strings.TrimSpace(code); code != "" {
		s.resultAccount = code
	}
}

// WithLocker attaches a distributed lock used by CloseFiscalYear.
func (s *Service) WithLocker(l Locker) {
	s.locker = l
}

// WithMetrics attaches close metrics.
func (s *Service) WithMetrics(m Metrics) {
	s.metrics = m
}

// CreateFiscalYear opens a fiscal year with its thirteen periods.
func (s *Service) CreateFiscalYear(ctx context.Context, actorID, entityID int64, year int) (ledger.FiscalYear, error) {
	if entityID <= 0 || year < 1900 || year > 9999 {
		return ledger.FiscalYear{}, fmt.Errorf("%w: entity and year required", ledger.ErrInvalidInput)
	}
	fy := ledger.NewFiscalYear(entityID, year)
	fy.CreatedAt = s.now()
	var out ledger.FiscalYear
	err := s.repo.WithTx(ctx, []ledger.Scope{fy.Scope()}, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		out, err = tx.InsertFiscalYear(ctx, fy)
		return err
	})
	if err != nil {
		return ledger.FiscalYear{}, err
	}
	s.record(ctx, actorID, "fiscal_year.create", out.Scope(), nil)
	return out, nil
}

// GetFiscalYear returns the fiscal year with its periods.
func (s *Service) GetFiscalYear(ctx context.Context, scope ledger.Scope) (ledger.FiscalYear, error) {
	var out ledger.FiscalYear
	err := s.repo.WithReadTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		out, err = tx.GetFiscalYear(ctx, scope)
		return err
	})
	return out, err
}

// ClosePeriod marks a period cerrado once every voucher dated in it is
// aprobada or rechazada.
func (s *Service) ClosePeriod(ctx context.Context, actor ledger.Actor, scope ledger.Scope, number int) (ledger.Period, error) {
	period, err := s.closePeriod(ctx, actor, scope, number)
	s.observe(KindPeriod, err)
	if err != nil {
		return ledger.Period{}, err
	}
	s.record(ctx, actor.ID, "period.close", scope, map[string]any{"period": number})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:     notify.KindPeriodClosed,
		EntityID: scope.EntityID,
		Year:     scope.Year,
		Period:   number,
		ActorID:  actor.ID,
		At:       s.now(),
	})
	return period, nil
}

func (s *Service) closePeriod(ctx context.Context, actor ledger.Actor, scope ledger.Scope, number int) (ledger.Period, error) {
	if !actor.CanClose {
		return ledger.Period{}, fmt.Errorf("%w: actor %d may not close periods", ledger.ErrForbidden, actor.ID)
	}
	var out ledger.Period
	ctx = context.WithoutCancel(ctx)
	err := s.repo.WithTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		fy, err := tx.GetFiscalYear(ctx, scope)
		if err != nil {
			return err
		}
		if fy.State == ledger.YearClosed {
			return fmt.Errorf("%w: fiscal year %d is %s", ledger.ErrPeriodClosed, fy.Year, fy.State)
		}
		period, ok := fy.Period(number)
		if !ok {
			return fmt.Errorf("%w: period %d does not exist in fiscal year %d", ledger.ErrInvalidInput, number, fy.Year)
		}
		if period.State == ledger.PeriodClosed {
			return fmt.Errorf("%w: period %d of fiscal year %d is already closed", ledger.ErrInvalidStatus, number, fy.Year)
		}
		vouchers, err := tx.ListVouchers(ctx, scope, number)
		if err != nil {
			return err
		}
		var pending []string
		for _, v := range vouchers {
			if !v.State.Terminal() {
				pending = append(pending, fmt.Sprintf("%s-%d (%s)", v.Type, v.Number, v.State))
			}
		}
		if len(pending) > 0 {
			return fmt.Errorf("%w: period %d has %d non-terminal vouchers: %s",
				ledger.ErrPendingVouchersExist, number, len(pending), strings.Join(pending, ", "))
		}
		at := s.now()
		period.State = ledger.PeriodClosed
		period.ClosedBy = &actor.ID
		period.ClosedAt = &at
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		out = period
		return nil
	})
	return out, err
}

func (s *Service) observe(kind string, err error) {
	if s.metrics == nil {
		return
	}
	result := "closed"
	if err != nil {
		result = ledger.Kind(err)
	}
	s.metrics.ObserveClosing(kind, result)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, scope ledger.Scope, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["year"] = scope.Year
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "fiscal_year",
		EntityID: strconv.FormatInt(scope.EntityID, 10) + "/" + strconv.Itoa(scope.Year),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit close", slog.String("action", action), slog.Any("error", err))
	}
}
