// Package budget records moment-sequenced budget movements and keeps the
// ceiling chain of every line item intact.
package budget

import (
	"fmt"
	"time"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

// MovementInput describes a budget event to post.
type MovementInput struct {
	LineItemID  int64
	Period      int
	Moment      ledger.Moment
	Type        ledger.MovementType
	Amount      money.Cents
	Date        time.Time
	Description string
}

// Validate performs cheap checks before touching storage.
func (in MovementInput) Validate() error {
	if in.LineItemID <= 0 {
		return fmt.Errorf("%w: line item required", ledger.ErrInvalidInput)
	}
	if in.Period < 1 || in.Period > ledger.PeriodsPerYear {
		return fmt.Errorf("%w: period %d outside 1..%d", ledger.ErrInvalidInput, in.Period, ledger.PeriodsPerYear)
	}
	if !in.Moment.Valid() {
		return fmt.Errorf("%w: unknown moment %q", ledger.ErrInvalidInput, in.Moment)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown movement type %q", ledger.ErrInvalidInput, in.Type)
	}
	if in.Moment == ledger.MomentModified && in.Type == ledger.MovementOriginal {
		return fmt.Errorf("%w: modifications are additions or reductions", ledger.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ledger.ErrInvalidInput)
	}
	return nil
}

// PostResult is returned by PostMovement. VoucherLine is nil for moments
// without an accounting counterpart.
type PostResult struct {
	Movement    ledger.BudgetMovement  `json:"movement"`
	VoucherLine *ledger.VoucherLineRef `json:"voucher_line,omitempty"`
	Advisories  []string               `json:"advisories,omitempty"`
	Totals      ledger.BudgetTotals    `json:"totals"`
}

// MomentLevel is one row of a line item summary.
type MomentLevel struct {
	Moment     ledger.Moment `json:"moment"`
	Cumulative money.Cents   `json:"cumulative"`
	Level      money.Cents   `json:"level"`
}

// Summary reports the cumulative per moment and the remaining headroom.
type Summary struct {
	LineItem   ledger.LineItem    `json:"line_item"`
	Moments    []MomentLevel      `json:"moments"`
	Authorized money.Cents        `json:"authorized"`
	Available  money.Cents        `json:"available"`
	Violations []ledger.Violation `json:"violations,omitempty"`
}

func summarize(item ledger.LineItem, totals ledger.BudgetTotals) Summary {
	s := Summary{LineItem: item}
	for _, m := range item.Class.Moments() {
		s.Moments = append(s.Moments, MomentLevel{Moment: m, Cumulative: totals[m], Level: totals.Level(item.Class, m)})
	}
	s.Authorized = totals.Level(item.Class, ledger.MomentModified)
	first := ledger.MomentCommitted
	if item.Class == ledger.BudgetRevenue {
		first = ledger.MomentAccrued
	}
	s.Available = s.Authorized - totals[first]
	s.Violations = totals.CheckChain(item.Class)
	return s
}
