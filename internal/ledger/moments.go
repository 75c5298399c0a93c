package ledger

import (
	"fmt"

	"github.com/armonia-contable/armonia/internal/money"
)

// Moment is a legally defined stage of budget execution.
type Moment string

const (
	MomentApproved  Moment = "aprobado"
	MomentEstimated Moment = "estimado"
	MomentModified  Moment = "modificado"
	MomentCommitted Moment = "comprometido"
	MomentAccrued   Moment = "devengado"
	MomentExercised Moment = "ejercido"
	MomentPaid      Moment = "pagado"
	MomentCollected Moment = "recaudado"
)

var momentLabels = map[Moment]string{
	MomentApproved:  "approved",
	MomentEstimated: "estimated",
	MomentModified:  "modified",
	MomentCommitted: "committed",
	MomentAccrued:   "accrued",
	MomentExercised: "exercised",
	MomentPaid:      "paid",
	MomentCollected: "collected",
}

// Valid reports whether the moment is known.
func (m Moment) Valid() bool {
	_, ok := momentLabels[m]
	return ok
}

// Label returns the English label used in invariant messages.
func (m Moment) Label() string {
	if label, ok := momentLabels[m]; ok {
		return label
	}
	return string(m)
}

// chains lists the moments of each budget class in execution order.
var chains = map[BudgetClass][]Moment{
	BudgetExpense: {MomentApproved, MomentModified, MomentCommitted, MomentAccrued, MomentExercised, MomentPaid},
	BudgetRevenue: {MomentEstimated, MomentModified, MomentAccrued, MomentCollected},
}

// ceilings maps each capped moment to the moment whose level bounds it.
// The level of modificado is the authorized budget: the base moment plus
// the net modifications.
var ceilings = map[BudgetClass]map[Moment]Moment{
	BudgetExpense: {
		MomentCommitted: MomentModified,
		MomentAccrued:   MomentCommitted,
		MomentExercised: MomentAccrued,
		MomentPaid:      MomentExercised,
	},
	BudgetRevenue: {
		MomentAccrued:   MomentModified,
		MomentCollected: MomentAccrued,
	},
}

// rulePolicy lists the moments whose accounting counterpart is mandatory.
var rulePolicy = map[BudgetClass]map[Moment]bool{
	BudgetExpense: {
		MomentCommitted: true,
		MomentAccrued:   true,
		MomentExercised: true,
		MomentPaid:      true,
	},
	BudgetRevenue: {
		MomentAccrued:   true,
		MomentCollected: true,
	},
}

// Valid reports whether the budget class is known.
func (c BudgetClass) Valid() bool {
	_, ok := chains[c]
	return ok
}

// Moments returns the execution chain of the class.
func (c BudgetClass) Moments() []Moment {
	return append([]Moment(nil), chains[c]...)
}

// Allows reports whether the moment belongs to the class chain.
func (c BudgetClass) Allows(m Moment) bool {
	for _, candidate := range chains[c] {
		if candidate == m {
			return true
		}
	}
	return false
}

// Base returns the first moment of the chain (aprobado or estimado).
func (c BudgetClass) Base() Moment {
	chain := chains[c]
	if len(chain) == 0 {
		return ""
	}
	return chain[0]
}

// Ceiling returns the moment bounding m, if any.
func (c BudgetClass) Ceiling(m Moment) (Moment, bool) {
	ceil, ok := ceilings[c][m]
	return ceil, ok
}

// HardCeilings reports whether ceiling violations block the movement.
func (c BudgetClass) HardCeilings() bool {
	return c == BudgetExpense
}

// RequiresRule reports whether a conversion rule is mandatory for m.
func (c BudgetClass) RequiresRule(m Moment) bool {
	return rulePolicy[c][m]
}

// VoucherTypeFor returns the voucher family that mirrors movements of m.
func (c BudgetClass) VoucherTypeFor(m Moment) VoucherType {
	switch {
	case c == BudgetExpense && m == MomentPaid:
		return VoucherOutlay
	case c == BudgetRevenue && m == MomentCollected:
		return VoucherIncome
	default:
		return VoucherJournal
	}
}

// BudgetTotals holds the raw cumulative per moment for one line item.
type BudgetTotals map[Moment]money.Cents

// Clone copies the totals.
func (t BudgetTotals) Clone() BudgetTotals {
	out := make(BudgetTotals, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Apply returns a copy with delta added to moment m.
func (t BudgetTotals) Apply(m Moment, delta money.Cents) BudgetTotals {
	out := t.Clone()
	out[m] += delta
	return out
}

// Level returns the cumulative that successors of m are measured against.
// For modificado that is base + net modifications.
func (t BudgetTotals) Level(class BudgetClass, m Moment) money.Cents {
	if m == MomentModified {
		return t[class.Base()] + t[MomentModified]
	}
	return t[m]
}

// Violation describes a broken link of the ceiling chain.
type Violation struct {
	Moment  Moment      `json:"moment"`
	Ceiling Moment      `json:"ceiling"`
	Level   money.Cents `json:"level"`
	Limit   money.Cents `json:"limit"`
}

// Excess is the amount by which the moment exceeds its ceiling.
func (v Violation) Excess() money.Cents {
	return v.Level - v.Limit
}

// Describe renders the violation for a line item code.
func (v Violation) Describe(lineItem string) string {
	return fmt.Sprintf("%s amount exceeds %s budget for line item %s by %s",
		v.Moment.Label(), v.Ceiling.Label(), lineItem, v.Excess().Format())
}

// CheckChain evaluates every ceiling link of the class in chain order.
func (t BudgetTotals) CheckChain(class BudgetClass) []Violation {
	var out []Violation
	for _, m := range chains[class] {
		ceil, ok := ceilings[class][m]
		if !ok {
			continue
		}
		level := t.Level(class, m)
		limit := t.Level(class, ceil)
		if level > limit {
			out = append(out, Violation{Moment: m, Ceiling: ceil, Level: level, Limit: limit})
		}
	}
	return out
}

// NegativeLevel returns the first moment whose level dropped below zero.
func (t BudgetTotals) NegativeLevel(class BudgetClass) (Moment, bool) {
	for _, m := range chains[class] {
		if t.Level(class, m) < 0 {
			return m, true
		}
	}
	return "", false
}
