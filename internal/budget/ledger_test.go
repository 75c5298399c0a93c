package budget

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/ledger/ledgertest"
	"github.com/armonia-contable/armonia/internal/money"
	"github.com/armonia-contable/armonia/internal/shared"
)

var poster = ledger.Actor{ID: 42}

type recordingMetrics struct {
	mu   sync.Mutex
	seen map[string]int
}

func (m *recordingMetrics) ObserveMovement(moment, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]int{}
	}
	m.seen[moment+"/"+result]++
}

func newLedger(t *testing.T) (*ledgertest.Fixture, *Ledger) {
	f := ledgertest.New(t)
	l := NewLedger(f.Store, nil, &shared.AuditBuffer{}, nil)
	l.WithNow(ledgertest.Now)
	return f, l
}

func post(t *testing.T, l *Ledger, item ledger.LineItem, moment ledger.Moment, typ ledger.MovementType, units int64) (PostResult, error) {
	t.Helper()
	return l.PostMovement(context.Background(), poster, MovementInput{
		LineItemID:  item.ID,
		Period:      3,
		Moment:      moment,
		Type:        typ,
		Amount:      money.FromUnits(units),
		Description: "movimiento",
	})
}

func voucherCount(t *testing.T, f *ledgertest.Fixture) (vouchers, lines int) {
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		all, err := tx.ListVouchers(ctx, f.Scope(), 0)
		require.NoError(t, err)
		vouchers = len(all)
		for _, v := range all {
			lines += len(v.Lines)
		}
	})
	return vouchers, lines
}

func TestCommitmentCeilingRejectsExcess(t *testing.T) {
	f, l := newLedger(t)
	metrics := &recordingMetrics{}
	l.WithMetrics(metrics)
	f.ExpenseRules(t, ledgertest.ObjectPayroll, ledgertest.Payroll)
	item := f.LineItem(t, ledger.BudgetExpense, "E-1100", ledgertest.ObjectPayroll)

	res, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 150_000_000)
	require.NoError(t, err)
	require.NotNil(t, res.VoucherLine)

	res, err = post(t, l, item, ledger.MomentCommitted, ledger.MovementOriginal, 25_000_000)
	require.NoError(t, err)
	require.NotNil(t, res.VoucherLine)
	require.Equal(t, money.FromUnits(25_000_000), res.Totals[ledger.MomentCommitted])

	_, beforeLines := voucherCount(t, f)

	_, err = post(t, l, item, ledger.MomentCommitted, ledger.MovementOriginal, 130_000_000)
	require.ErrorIs(t, err, ledger.ErrBudgetCeilingExceeded)
	require.Contains(t, err.Error(), "committed amount exceeds modified budget for line item E-1100 by $5,000,000.00")

	summary, err := l.Summary(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(150_000_000), summary.Authorized)
	require.Equal(t, money.FromUnits(125_000_000), summary.Available)

	movements, err := l.Movements(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)

	_, afterLines := voucherCount(t, f)
	require.Equal(t, beforeLines, afterLines)

	require.Equal(t, 1, metrics.seen["comprometido/BudgetCeilingExceeded"])
	require.Equal(t, 1, metrics.seen["comprometido/posted"])
}

func TestReconciledLinesMirrorAmountExactly(t *testing.T) {
	f, l := newLedger(t)
	f.ExpenseRules(t, ledgertest.ObjectPayroll, ledgertest.Payroll)
	item := f.LineItem(t, ledger.BudgetExpense, "E-1100", ledgertest.ObjectPayroll)

	_, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 1_000)
	require.NoError(t, err)
	first, err := l.PostMovement(context.Background(), poster, MovementInput{
		LineItemID: item.ID, Period: 3, Moment: ledger.MomentCommitted, Type: ledger.MovementOriginal, Amount: money.MustParse("100.37"),
	})
	require.NoError(t, err)
	second, err := l.PostMovement(context.Background(), poster, MovementInput{
		LineItemID: item.ID, Period: 3, Moment: ledger.MomentCommitted, Type: ledger.MovementOriginal, Amount: money.MustParse("0.01"),
	})
	require.NoError(t, err)
	require.Equal(t, first.VoucherLine.VoucherID, second.VoucherLine.VoucherID, "same batch")
	require.Equal(t, 3, second.VoucherLine.DebitLine)
	require.Equal(t, 4, second.VoucherLine.CreditLine)

	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		v, err := tx.GetVoucher(ctx, first.VoucherLine.VoucherID)
		require.NoError(t, err)
		require.Equal(t, ledger.VoucherDraft, v.State)
		require.Len(t, v.Lines, 4)
		require.Equal(t, money.MustParse("100.37"), v.Lines[0].Debit)
		require.Equal(t, money.MustParse("100.37"), v.Lines[1].Credit)
		require.Equal(t, f.AccountID(ledgertest.ExpCommitted), v.Lines[0].AccountID)
		debit, credit := v.Totals()
		require.Equal(t, debit, credit)
	})
}

func TestMissingRequiredRuleCommitsNothing(t *testing.T) {
	f, l := newLedger(t)
	item := f.LineItem(t, ledger.BudgetExpense, "E-3100", ledgertest.ObjectServices)

	res, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 1_000)
	require.NoError(t, err)
	require.Nil(t, res.VoucherLine, "optional moment without a rule stays budget-only")

	_, err = post(t, l, item, ledger.MomentCommitted, ledger.MovementOriginal, 500)
	require.ErrorIs(t, err, ledger.ErrNoRuleFound)

	summary, err := l.Summary(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, summary.Moments[2].Cumulative.IsZero())

	movements, err := l.Movements(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)

	vouchers, _ := voucherCount(t, f)
	require.Zero(t, vouchers)
}

func TestSummaryRuleAccountCommitsNothing(t *testing.T) {
	f, l := newLedger(t)
	f.ExpenseRules(t, ledgertest.ObjectPayroll, ledgertest.Payroll)
	item := f.LineItem(t, ledger.BudgetExpense, "E-1100", ledgertest.ObjectPayroll)

	// the chart was split behind the matrix's back
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		parent := f.Account(ledgertest.ExpApproved)
		parent.IsLeaf = false
		require.NoError(t, tx.UpdateAccount(ctx, parent))
		_, err := tx.InsertAccount(ctx, ledger.Account{
			EntityID: f.EntityID, Code: "8.2.1.1", Name: "Aprobado por fuente", Level: 4,
			Kind: ledger.AccountKindMemoBudget, Nature: ledger.NatureCredit, IsLeaf: true, ParentID: &parent.ID,
		})
		require.NoError(t, err)
	})

	_, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 1_000)
	require.ErrorIs(t, err, ledger.ErrInvalidAccountReference)
	require.Contains(t, err.Error(), "8.2.1 is not a leaf")

	movements, err := l.Movements(context.Background(), item.ID)
	require.NoError(t, err)
	require.Empty(t, movements)
	summary, err := l.Summary(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, summary.Authorized.IsZero())
	vouchers, _ := voucherCount(t, f)
	require.Zero(t, vouchers)
}

func TestConcurrentCommitmentsAgainstHeadroom(t *testing.T) {
	f, l := newLedger(t)
	f.ExpenseRules(t, ledgertest.ObjectPayroll, ledgertest.Payroll)
	item := f.LineItem(t, ledger.BudgetExpense, "E-1100", ledgertest.ObjectPayroll)
	_, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 15_000_000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = post(t, l, item, ledger.MomentCommitted, ledger.MovementOriginal, 10_000_000)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrBudgetCeilingExceeded):
			rejected++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)

	summary, err := l.Summary(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(5_000_000), summary.Available)
}

func TestReductionsKeepChainAndSwapAccounts(t *testing.T) {
	f, l := newLedger(t)
	f.ExpenseRules(t, ledgertest.ObjectPayroll, ledgertest.Payroll)
	item := f.LineItem(t, ledger.BudgetExpense, "E-1100", ledgertest.ObjectPayroll)

	_, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 100)
	require.NoError(t, err)
	_, err = post(t, l, item, ledger.MomentModified, ledger.MovementAddition, 20)
	require.NoError(t, err)
	_, err = post(t, l, item, ledger.MomentCommitted, ledger.MovementOriginal, 110)
	require.NoError(t, err)

	_, err = post(t, l, item, ledger.MomentModified, ledger.MovementReduction, 15)
	require.ErrorIs(t, err, ledger.ErrBudgetCeilingExceeded)
	require.Contains(t, err.Error(), "by $5.00")

	_, err = post(t, l, item, ledger.MomentModified, ledger.MovementOriginal, 15)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = post(t, l, item, ledger.MomentCommitted, ledger.MovementReduction, 200)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	res, err := post(t, l, item, ledger.MomentCommitted, ledger.MovementReduction, 10)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(100), res.Totals[ledger.MomentCommitted])

	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		v, err := tx.GetVoucher(ctx, res.VoucherLine.VoucherID)
		require.NoError(t, err)
		debit := v.Lines[res.VoucherLine.DebitLine-1]
		credit := v.Lines[res.VoucherLine.CreditLine-1]
		require.Equal(t, f.AccountID(ledgertest.ExpToExercise), debit.AccountID)
		require.Equal(t, f.AccountID(ledgertest.ExpCommitted), credit.AccountID)
	})
}

func TestRevenueCeilingsAreAdvisory(t *testing.T) {
	f, l := newLedger(t)
	f.RevenueRules(t, ledgertest.RevenueTaxes, ledgertest.Taxes)
	item := f.LineItem(t, ledger.BudgetRevenue, "R-1.1", ledgertest.RevenueTaxes)

	_, err := post(t, l, item, ledger.MomentEstimated, ledger.MovementOriginal, 100)
	require.NoError(t, err)
	res, err := post(t, l, item, ledger.MomentAccrued, ledger.MovementOriginal, 120)
	require.NoError(t, err)
	require.Len(t, res.Advisories, 1)
	require.Equal(t, "accrued amount exceeds modified budget for line item R-1.1 by $20.00", res.Advisories[0])
	require.Equal(t, res.Advisories[0], res.Movement.Advisory)

	res, err = post(t, l, item, ledger.MomentCollected, ledger.MovementOriginal, 130)
	require.NoError(t, err)
	require.Len(t, res.Advisories, 2)
	require.NotNil(t, res.VoucherLine)

	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		v, err := tx.GetVoucher(ctx, res.VoucherLine.VoucherID)
		require.NoError(t, err)
		require.Equal(t, ledger.VoucherIncome, v.Type)
	})

	_, err = post(t, l, item, ledger.MomentPaid, ledger.MovementOriginal, 1)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestClosedPeriodRejectsMovements(t *testing.T) {
	f, l := newLedger(t)
	item := f.LineItem(t, ledger.BudgetExpense, "E-3100", ledgertest.ObjectServices)
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		fy, err := tx.GetFiscalYear(ctx, f.Scope())
		require.NoError(t, err)
		p, _ := fy.Period(3)
		p.State = ledger.PeriodClosed
		require.NoError(t, tx.UpdatePeriod(ctx, p))
	})
	_, err := post(t, l, item, ledger.MomentApproved, ledger.MovementOriginal, 10)
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)
	require.Equal(t, "PeriodClosed", ledger.Kind(err))
}
