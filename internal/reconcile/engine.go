// Package reconcile mirrors budget movements into journal lines using the
// conversion matrix.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

// SourcePrefix marks vouchers opened by the engine.
const SourcePrefix = "BUDGET"

var batchNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("armonia:reconcile"))

// Request describes a budget movement about to be persisted.
type Request struct {
	LineItem    ledger.LineItem
	Period      int
	Moment      ledger.Moment
	Type        ledger.MovementType
	Amount      money.Cents
	Date        time.Time
	Description string
	ActorID     int64
	At          time.Time
}

// Engine appends the accounting counterpart of budget movements to batch
// vouchers. It holds no state and runs inside the caller's transaction.
type Engine struct{}

// NewEngine constructs the reconciliation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// BatchSource keys the draft voucher collecting movements of one class,
// moment, period and business day.
func BatchSource(class ledger.BudgetClass, moment ledger.Moment, period int, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%d/%s", SourcePrefix, class, moment, period, date.Format(time.DateOnly))
}

// IsBatchSource reports whether source was produced by BatchSource.
func IsBatchSource(source string) bool {
	return strings.HasPrefix(source, SourcePrefix+"/")
}

// ReconcileTx resolves the rule for the movement and appends a debit and a
// credit line of exactly the movement amount. Both rule accounts must still
// be leaves. It returns nil when the
// moment carries no accounting counterpart.
func (e *Engine) ReconcileTx(ctx context.Context, tx ledger.TxRepository, req Request) (*ledger.VoucherLineRef, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: reconciled amount must be positive", ledger.ErrInvalidInput)
	}
	item := req.LineItem
	rule, err := conversion.ResolveTx(ctx, tx, item.EntityID, item.ClassifierID, req.Moment)
	if errors.Is(err, ledger.ErrNoRuleFound) {
		if item.Class.RequiresRule(req.Moment) {
			return nil, fmt.Errorf("%w: moment %s of line item %s requires an accounting counterpart", err, req.Moment, item.Code)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, id := range []int64{rule.DebitAccountID, rule.CreditAccountID} {
		if err := conversion.CheckLeafTx(ctx, tx, item.EntityID, id); err != nil {
			return nil, fmt.Errorf("rule %d for %s of line item %s: %w", rule.ID, req.Moment, item.Code, err)
		}
	}
	debit, credit := rule.DebitAccountID, rule.CreditAccountID
	if req.Type == ledger.MovementReduction {
		debit, credit = credit, debit
	}

	voucher, err := e.openBatch(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	memo := strings.TrimSpace(item.Code + " " + req.Description)
	next := len(voucher.Lines) + 1
	lines := append(voucher.Lines,
		ledger.JournalLine{LineNo: next, AccountID: debit, Debit: req.Amount, Memo: memo},
		ledger.JournalLine{LineNo: next + 1, AccountID: credit, Credit: req.Amount, Memo: memo},
	)
	if err := tx.ReplaceVoucherLines(ctx, voucher.ID, lines); err != nil {
		return nil, err
	}
	voucher.Lines = lines
	voucher.UpdatedAt = req.At
	if err := tx.UpdateVoucher(ctx, voucher); err != nil {
		return nil, err
	}
	return &ledger.VoucherLineRef{VoucherID: voucher.ID, DebitLine: next, CreditLine: next + 1}, nil
}

// openBatch returns the borrador voucher of the batch, opening a new one
// when none is still editable.
func (e *Engine) openBatch(ctx context.Context, tx ledger.TxRepository, req Request) (ledger.Voucher, error) {
	item := req.LineItem
	source := BatchSource(item.Class, req.Moment, req.Period, req.Date)
	existing, err := tx.FindVouchersBySource(ctx, item.Scope(), source)
	if err != nil {
		return ledger.Voucher{}, err
	}
	for _, v := range existing {
		if v.State == ledger.VoucherDraft {
			return v, nil
		}
	}
	name := fmt.Sprintf("%d/%d/%s/%d", item.EntityID, item.Year, source, len(existing)+1)
	return tx.InsertVoucher(ctx, ledger.Voucher{
		UID:         uuid.NewSHA1(batchNamespace, []byte(name)),
		EntityID:    item.EntityID,
		Year:        item.Year,
		Period:      req.Period,
		Type:        item.Class.VoucherTypeFor(req.Moment),
		Date:        req.Date,
		Description: fmt.Sprintf("Registro presupuestal %s %s, periodo %d", item.Class, req.Moment, req.Period),
		State:       ledger.VoucherDraft,
		Source:      source,
		CreatedBy:   req.ActorID,
		CreatedAt:   req.At,
		UpdatedAt:   req.At,
	})
}
