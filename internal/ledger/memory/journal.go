package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

func cloneYear(fy ledger.FiscalYear) ledger.FiscalYear {
	fy.Periods = append([]ledger.Period(nil), fy.Periods...)
	return fy
}

func cloneVoucher(v ledger.Voucher) ledger.Voucher {
	v.Lines = append([]ledger.JournalLine(nil), v.Lines...)
	return v
}

func (t *tx) InsertFiscalYear(ctx context.Context, fy ledger.FiscalYear) (ledger.FiscalYear, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.FiscalYear{}, err
	}
	defer done()
	if _, ok := t.store.years[fy.Scope()]; ok {
		return ledger.FiscalYear{}, fmt.Errorf("%w: fiscal year %d already exists", ledger.ErrInvalidInput, fy.Year)
	}
	fy.ID = t.id()
	put(t, t.store.years, fy.Scope(), cloneYear(fy))
	return cloneYear(fy), nil
}

func (t *tx) GetFiscalYear(ctx context.Context, scope ledger.Scope) (ledger.FiscalYear, error) {
	done, _ := t.begin(false)
	defer done()
	fy, ok := t.store.years[scope]
	if !ok {
		return ledger.FiscalYear{}, fmt.Errorf("%w: fiscal year %d", ledger.ErrNotFound, scope.Year)
	}
	return cloneYear(fy), nil
}

func (t *tx) UpdateFiscalYear(ctx context.Context, fy ledger.FiscalYear) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	current, ok := t.store.years[fy.Scope()]
	if !ok {
		return fmt.Errorf("%w: fiscal year %d", ledger.ErrNotFound, fy.Year)
	}
	// periods are owned by UpdatePeriod
	fy.Periods = current.Periods
	put(t, t.store.years, fy.Scope(), cloneYear(fy))
	return nil
}

func (t *tx) UpdatePeriod(ctx context.Context, p ledger.Period) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	scope := ledger.Scope{EntityID: p.EntityID, Year: p.Year}
	fy, ok := t.store.years[scope]
	if !ok {
		return fmt.Errorf("%w: fiscal year %d", ledger.ErrNotFound, p.Year)
	}
	fy = cloneYear(fy)
	for i := range fy.Periods {
		if fy.Periods[i].Number == p.Number {
			fy.Periods[i] = p
			put(t, t.store.years, scope, fy)
			return nil
		}
	}
	return fmt.Errorf("%w: period %d", ledger.ErrNotFound, p.Number)
}

func (t *tx) GetBudgetTotals(ctx context.Context, lineItemID int64) (ledger.BudgetTotals, error) {
	done, _ := t.begin(false)
	defer done()
	return t.store.totals[lineItemID].Clone(), nil
}

func (t *tx) AddBudgetTotal(ctx context.Context, lineItemID int64, m ledger.Moment, delta money.Cents) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	put(t, t.store.totals, lineItemID, t.store.totals[lineItemID].Apply(m, delta))
	return nil
}

func (t *tx) InsertMovement(ctx context.Context, mv ledger.BudgetMovement) (ledger.BudgetMovement, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.BudgetMovement{}, err
	}
	defer done()
	mv.ID = t.id()
	put(t, t.store.movements, mv.ID, mv)
	return mv, nil
}

func (t *tx) ListMovements(ctx context.Context, lineItemID int64) ([]ledger.BudgetMovement, error) {
	done, _ := t.begin(false)
	defer done()
	return sortedByID(t.store.movements, func(mv ledger.BudgetMovement) bool { return mv.LineItemID == lineItemID }), nil
}

func (t *tx) InsertVoucher(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.Voucher{}, err
	}
	defer done()
	key := seqKey{scope: v.Scope(), typ: v.Type}
	number := t.store.sequences[key] + 1
	put(t, t.store.sequences, key, number)
	v.ID = t.id()
	v.Number = number
	put(t, t.store.vouchers, v.ID, cloneVoucher(v))
	return cloneVoucher(v), nil
}

func (t *tx) GetVoucher(ctx context.Context, id int64) (ledger.Voucher, error) {
	done, _ := t.begin(false)
	defer done()
	v, ok := t.store.vouchers[id]
	if !ok {
		return ledger.Voucher{}, fmt.Errorf("%w: voucher %d", ledger.ErrNotFound, id)
	}
	return cloneVoucher(v), nil
}

func (t *tx) FindVouchersBySource(ctx context.Context, scope ledger.Scope, source string) ([]ledger.Voucher, error) {
	done, _ := t.begin(false)
	defer done()
	found := sortedByID(t.store.vouchers, func(v ledger.Voucher) bool {
		return v.Scope() == scope && v.Source == source
	})
	for i := range found {
		found[i] = cloneVoucher(found[i])
	}
	return found, nil
}

func (t *tx) ReplaceVoucherLines(ctx context.Context, voucherID int64, lines []ledger.JournalLine) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	v, ok := t.store.vouchers[voucherID]
	if !ok {
		return fmt.Errorf("%w: voucher %d", ledger.ErrNotFound, voucherID)
	}
	v.Lines = append([]ledger.JournalLine(nil), lines...)
	put(t, t.store.vouchers, voucherID, v)
	return nil
}

func (t *tx) UpdateVoucher(ctx context.Context, v ledger.Voucher) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	current, ok := t.store.vouchers[v.ID]
	if !ok {
		return fmt.Errorf("%w: voucher %d", ledger.ErrNotFound, v.ID)
	}
	// lines are owned by ReplaceVoucherLines
	v.Lines = current.Lines
	v.Number = current.Number
	put(t, t.store.vouchers, v.ID, v)
	return nil
}

func (t *tx) ListVouchers(ctx context.Context, scope ledger.Scope, period int) ([]ledger.Voucher, error) {
	done, _ := t.begin(false)
	defer done()
	found := sortedByID(t.store.vouchers, func(v ledger.Voucher) bool {
		return v.Scope() == scope && (period == 0 || v.Period == period)
	})
	for i := range found {
		found[i] = cloneVoucher(found[i])
	}
	return found, nil
}

func (t *tx) MarkVoucherApplied(ctx context.Context, voucherID int64) (bool, error) {
	done, err := t.begin(true)
	if err != nil {
		return false, err
	}
	defer done()
	if t.store.applied[voucherID] {
		return false, nil
	}
	put(t, t.store.applied, voucherID, true)
	return true, nil
}

func (t *tx) IncrementBalance(ctx context.Context, delta ledger.AccountBalance) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	key := balanceKey{
		scope:     ledger.Scope{EntityID: delta.EntityID, Year: delta.Year},
		period:    delta.Period,
		accountID: delta.AccountID,
	}
	current, ok := t.store.balances[key]
	if !ok {
		current = ledger.AccountBalance{
			EntityID:  delta.EntityID,
			Year:      delta.Year,
			Period:    delta.Period,
			AccountID: delta.AccountID,
		}
	}
	current.Debit += delta.Debit
	current.Credit += delta.Credit
	put(t, t.store.balances, key, current)
	return nil
}

func (t *tx) ListBalances(ctx context.Context, scope ledger.Scope) ([]ledger.AccountBalance, error) {
	done, _ := t.begin(false)
	defer done()
	return t.balancesWhere(func(k balanceKey) bool { return k.scope == scope }), nil
}

func (t *tx) ListAccountBalances(ctx context.Context, scope ledger.Scope, accountID int64) ([]ledger.AccountBalance, error) {
	done, _ := t.begin(false)
	defer done()
	return t.balancesWhere(func(k balanceKey) bool { return k.scope == scope && k.accountID == accountID }), nil
}

func (t *tx) balancesWhere(keep func(balanceKey) bool) []ledger.AccountBalance {
	var out []ledger.AccountBalance
	for key, b := range t.store.balances {
		if keep(key) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Period < out[j].Period
	})
	return out
}
