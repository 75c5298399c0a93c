package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/reconcile"
	"github.com/armonia-contable/armonia/internal/shared"
)

// Result labels reported to metrics.
const (
	ResultPosted   = "posted"
	ResultAdvisory = "advisory"
)

// AuditPort records budget movements.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes movement outcomes per moment.
type Metrics interface {
	ObserveMovement(moment, result string)
}

// Ledger posts budget movements and their accounting counterpart in one
// transaction.
type Ledger struct {
	repo    ledger.RepositoryPort
	engine  *reconcile.Engine
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger constructs the budget ledger.
func NewLedger(repo ledger.RepositoryPort, engine *reconcile.Engine, audit AuditPort, logger *slog.Logger) *Ledger {
	if engine == nil {
		engine = reconcile.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, engine: engine, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// WithMetrics attaches movement metrics.
func (l *Ledger) WithMetrics(m Metrics) {
	l.metrics = m
}

// PostMovement validates the movement against the period calendar and the
// ceiling chain, then persists it together with its reconciled journal
// lines. Nothing is written when any step fails.
func (l *Ledger) PostMovement(ctx context.Context, actor ledger.Actor, input MovementInput) (PostResult, error) {
	result, err := l.post(ctx, actor, input)
	if l.metrics != nil {
		outcome := ResultPosted
		switch {
		case err != nil:
			outcome = ledger.Kind(err)
		case len(result.Advisories) > 0:
			outcome = ResultAdvisory
		}
		l.metrics.ObserveMovement(string(input.Moment), outcome)
	}
	if err != nil {
		return PostResult{}, err
	}
	for _, advisory := range result.Advisories {
		l.logger.Warn("budget advisory",
			slog.Int64("line_item_id", input.LineItemID),
			slog.String("moment", string(input.Moment)),
			slog.String("advisory", advisory))
	}
	l.record(ctx, actor.ID, result)
	return result, nil
}

func (l *Ledger) post(ctx context.Context, actor ledger.Actor, input MovementInput) (PostResult, error) {
	if err := input.Validate(); err != nil {
		return PostResult{}, err
	}
	item, err := l.lineItem(ctx, input.LineItemID)
	if err != nil {
		return PostResult{}, err
	}
	now := l.now()
	var result PostResult
	scopes := []ledger.Scope{ledger.CatalogScope(item.EntityID), item.Scope()}
	err = l.repo.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		item, err := tx.GetLineItem(ctx, input.LineItemID)
		if err != nil {
			return err
		}
		if !item.Class.Allows(input.Moment) {
			return fmt.Errorf("%w: moment %s does not apply to %s line item %s", ledger.ErrInvalidInput, input.Moment, item.Class, item.Code)
		}
		fy, err := tx.GetFiscalYear(ctx, item.Scope())
		if err != nil {
			return err
		}
		period, err := fy.EnsurePostable(input.Period)
		if err != nil {
			return err
		}
		date, err := period.ResolveDate(input.Date, now)
		if err != nil {
			return err
		}

		movement := ledger.BudgetMovement{
			EntityID:    item.EntityID,
			Year:        item.Year,
			LineItemID:  item.ID,
			Period:      input.Period,
			Moment:      input.Moment,
			Type:        input.Type,
			Amount:      input.Amount,
			Date:        date,
			Description: input.Description,
			PostedBy:    actor.ID,
			CreatedAt:   now,
		}
		totals, err := tx.GetBudgetTotals(ctx, item.ID)
		if err != nil {
			return err
		}
		next := totals.Apply(input.Moment, movement.Delta())
		if m, negative := next.NegativeLevel(item.Class); negative {
			return fmt.Errorf("%w: reduction takes %s amount of line item %s below zero", ledger.ErrInvalidInput, m.Label(), item.Code)
		}
		var advisories []string
		for _, v := range next.CheckChain(item.Class) {
			if item.Class.HardCeilings() {
				return fmt.Errorf("%w: %s", ledger.ErrBudgetCeilingExceeded, v.Describe(item.Code))
			}
			advisories = append(advisories, v.Describe(item.Code))
		}

		if err := tx.AddBudgetTotal(ctx, item.ID, input.Moment, movement.Delta()); err != nil {
			return err
		}
		ref, err := l.engine.ReconcileTx(ctx, tx, reconcile.Request{
			LineItem:    item,
			Period:      input.Period,
			Moment:      input.Moment,
			Type:        input.Type,
			Amount:      input.Amount,
			Date:        date,
			Description: input.Description,
			ActorID:     actor.ID,
			At:          now,
		})
		if err != nil {
			return err
		}
		movement.VoucherRef = ref
		if len(advisories) > 0 {
			movement.Advisory = advisories[0]
		}
		inserted, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		result = PostResult{Movement: inserted, VoucherLine: ref, Advisories: advisories, Totals: next}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// Summary returns the cumulative per moment of a line item with its headroom.
func (l *Ledger) Summary(ctx context.Context, lineItemID int64) (Summary, error) {
	item, err := l.lineItem(ctx, lineItemID)
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	err = l.repo.WithReadTx(ctx, []ledger.Scope{item.Scope()}, func(ctx context.Context, tx ledger.TxRepository) error {
		totals, err := tx.GetBudgetTotals(ctx, item.ID)
		if err != nil {
			return err
		}
		out = summarize(item, totals)
		return nil
	})
	return out, err
}

// Movements lists the movements of a line item in posting order.
func (l *Ledger) Movements(ctx context.Context, lineItemID int64) ([]ledger.BudgetMovement, error) {
	item, err := l.lineItem(ctx, lineItemID)
	if err != nil {
		return nil, err
	}
	var out []ledger.BudgetMovement
	err = l.repo.WithReadTx(ctx, []ledger.Scope{item.Scope()}, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		out, err = tx.ListMovements(ctx, item.ID)
		return err
	})
	return out, err
}

func (l *Ledger) lineItem(ctx context.Context, id int64) (ledger.LineItem, error) {
	var item ledger.LineItem
	err := l.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		item, err = tx.GetLineItem(ctx, id)
		return err
	})
	return item, err
}

func (l *Ledger) record(ctx context.Context, actorID int64, result PostResult) {
	if l.audit == nil {
		return
	}
	mv := result.Movement
	meta := map[string]any{
		"line_item_id": mv.LineItemID,
		"moment":       string(mv.Moment),
		"type":         string(mv.Type),
		"amount":       mv.Amount.String(),
		"period":       mv.Period,
	}
	if result.VoucherLine != nil {
		meta["voucher_id"] = result.VoucherLine.VoucherID
	}
	if err := l.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "budget.movement.post",
		Entity:   "budget_movement",
		EntityID: strconv.FormatInt(mv.ID, 10),
		Meta:     meta,
		At:       l.now(),
	}); err != nil {
		l.logger.Warn("audit budget movement", slog.Int64("movement_id", mv.ID), slog.Any("error", err))
	}
}
