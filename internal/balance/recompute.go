package balance

import (
	"context"
	"sort"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

// Mismatch reports a (period, account) whose stored totals differ from a
// recomputation over approved vouchers.
type Mismatch struct {
	Period    int                   `json:"period"`
	AccountID int64                 `json:"account_id"`
	Stored    ledger.AccountBalance `json:"stored"`
	Expected  ledger.AccountBalance `json:"expected"`
}

// Report summarises an integrity verification of one scope.
type Report struct {
	Scope      ledger.Scope `json:"scope"`
	Vouchers   int          `json:"vouchers"`
	Rows       int          `json:"rows"`
	Mismatches []Mismatch   `json:"mismatches,omitempty"`
	Unbalanced []int64      `json:"unbalanced,omitempty"`
}

// OK reports whether the scope passed every check.
func (r Report) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Unbalanced) == 0
}

type cell struct {
	period    int
	accountID int64
}

// Recompute rebuilds the balances of a scope from its approved vouchers.
func (a *Aggregator) Recompute(ctx context.Context, scope ledger.Scope) ([]ledger.AccountBalance, error) {
	var out []ledger.AccountBalance
	err := a.repo.WithReadTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		vouchers, err := tx.ListVouchers(ctx, scope, 0)
		if err != nil {
			return err
		}
		out = recompute(scope, vouchers)
		return nil
	})
	return out, err
}

func recompute(scope ledger.Scope, vouchers []ledger.Voucher) []ledger.AccountBalance {
	cells := make(map[cell]ledger.AccountBalance)
	for _, v := range vouchers {
		if v.State != ledger.VoucherApproved {
			continue
		}
		for _, d := range fold(v) {
			key := cell{period: d.Period, accountID: d.AccountID}
			acc := cells[key]
			acc.EntityID, acc.Year, acc.Period, acc.AccountID = scope.EntityID, scope.Year, d.Period, d.AccountID
			acc.Debit += d.Debit
			acc.Credit += d.Credit
			cells[key] = acc
		}
	}
	out := make([]ledger.AccountBalance, 0, len(cells))
	for _, acc := range cells {
		out = append(out, acc)
	}
	sortBalances(out)
	return out
}

// Verify compares stored balances against a recomputation and checks that
// every approved voucher is balanced.
func (a *Aggregator) Verify(ctx context.Context, scope ledger.Scope) (Report, error) {
	report := Report{Scope: scope}
	err := a.repo.WithReadTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		vouchers, err := tx.ListVouchers(ctx, scope, 0)
		if err != nil {
			return err
		}
		stored, err := tx.ListBalances(ctx, scope)
		if err != nil {
			return err
		}
		expected := recompute(scope, vouchers)

		for _, v := range vouchers {
			if v.State != ledger.VoucherApproved {
				continue
			}
			report.Vouchers++
			debit, credit := v.Totals()
			if debit != credit {
				report.Unbalanced = append(report.Unbalanced, v.ID)
			}
		}

		want := make(map[cell]ledger.AccountBalance, len(expected))
		for _, row := range expected {
			want[cell{period: row.Period, accountID: row.AccountID}] = row
		}
		have := make(map[cell]ledger.AccountBalance, len(stored))
		for _, row := range stored {
			have[cell{period: row.Period, accountID: row.AccountID}] = row
		}
		report.Rows = len(have)
		for key, row := range want {
			if got := have[key]; got.Debit != row.Debit || got.Credit != row.Credit {
				report.Mismatches = append(report.Mismatches, Mismatch{Period: key.period, AccountID: key.accountID, Stored: got, Expected: row})
			}
		}
		for key, row := range have {
			if _, ok := want[key]; !ok && (row.Debit != 0 || row.Credit != 0) {
				report.Mismatches = append(report.Mismatches, Mismatch{Period: key.period, AccountID: key.accountID, Stored: row})
			}
		}
		sort.Slice(report.Mismatches, func(i, j int) bool {
			if report.Mismatches[i].AccountID != report.Mismatches[j].AccountID {
				return report.Mismatches[i].AccountID < report.Mismatches[j].AccountID
			}
			return report.Mismatches[i].Period < report.Mismatches[j].Period
		})
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// Totals sums debit and credit over balances.
func Totals(rows []ledger.AccountBalance) (debit, credit money.Cents) {
	for _, row := range rows {
		debit += row.Debit
		credit += row.Credit
	}
	return debit, credit
}

func sortBalances(rows []ledger.AccountBalance) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AccountID != rows[j].AccountID {
			return rows[i].AccountID < rows[j].AccountID
		}
		return rows[i].Period < rows[j].Period
	})
}
