package closing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/ledger/ledgertest"
	"github.com/armonia-contable/armonia/internal/money"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/shared"
)

var closer = ledger.Actor{ID: 9, CanClose: true}

type closeMetrics struct {
	seen map[string]int
}

func (m *closeMetrics) ObserveClosing(kind, result string) {
	if m.seen == nil {
		m.seen = map[string]int{}
	}
	m.seen[kind+"/"+result]++
}

type stubLocker struct {
	keys     []string
	err      error
	released int
}

func (l *stubLocker) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func newService(t *testing.T) (*ledgertest.Fixture, *Service, *notify.Recorder) {
	f := ledgertest.New(t)
	rec := &notify.Recorder{}
	svc := NewService(f.Store, &shared.AuditBuffer{}, rec, nil)
	svc.WithNow(ledgertest.Now)
	return f, svc, rec
}

// approved inserts an aprobada voucher and folds it into balances.
func approved(t *testing.T, f *ledgertest.Fixture, period int, lines ...ledger.JournalLine) ledger.Voucher {
	t.Helper()
	v := f.Voucher(t, ledger.Voucher{Period: period, State: ledger.VoucherApproved, Description: "manual", Lines: lines})
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		_, err := balance.ApplyVoucherTx(ctx, tx, v)
		require.NoError(t, err)
	})
	return v
}

func closeAllPeriods(t *testing.T, svc *Service, scope ledger.Scope) {
	t.Helper()
	for p := 1; p <= ledger.PeriodsPerYear; p++ {
		_, err := svc.ClosePeriod(context.Background(), closer, scope, p)
		require.NoError(t, err)
	}
}

func cumulative(t *testing.T, f *ledgertest.Fixture, scope ledger.Scope, code string) money.Cents {
	t.Helper()
	b, err := balance.NewAggregator(f.Store).CumulativeThrough(context.Background(), scope, f.AccountID(code), ledger.AdjustmentPeriod)
	require.NoError(t, err)
	return b.Balance
}

func TestCreateFiscalYear(t *testing.T) {
	_, svc, _ := newService(t)
	ctx := context.Background()

	fy, err := svc.CreateFiscalYear(ctx, 1, ledgertest.EntityID, 2027)
	require.NoError(t, err)
	require.Equal(t, ledger.YearOpen, fy.State)
	require.Len(t, fy.Periods, ledger.PeriodsPerYear)
	adj, ok := fy.Period(ledger.AdjustmentPeriod)
	require.True(t, ok)
	require.Equal(t, fy.EndDate, adj.StartDate)

	_, err = svc.CreateFiscalYear(ctx, 1, ledgertest.EntityID, 2027)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	got, err := svc.GetFiscalYear(ctx, fy.Scope())
	require.NoError(t, err)
	require.Equal(t, fy.ID, got.ID)
}

func TestClosePeriodRequiresTerminalVouchers(t *testing.T) {
	f, svc, rec := newService(t)
	metrics := &closeMetrics{}
	svc.WithMetrics(metrics)
	ctx := context.Background()
	pending := f.Voucher(t, ledger.Voucher{Period: 4, State: ledger.VoucherPending, Lines: []ledger.JournalLine{
		f.Line(ledgertest.Payroll, 10, 0), f.Line(ledgertest.Bank, 0, 10),
	}})
	f.Voucher(t, ledger.Voucher{Period: 4, State: ledger.VoucherRejected})

	_, err := svc.ClosePeriod(ctx, ledger.Actor{ID: 3}, f.Scope(), 4)
	require.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = svc.ClosePeriod(ctx, closer, f.Scope(), 4)
	require.ErrorIs(t, err, ledger.ErrPendingVouchersExist)
	require.Contains(t, err.Error(), "1 non-terminal")

	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		pending.State = ledger.VoucherRejected
		require.NoError(t, tx.UpdateVoucher(ctx, pending))
	})
	period, err := svc.ClosePeriod(ctx, closer, f.Scope(), 4)
	require.NoError(t, err)
	require.Equal(t, ledger.PeriodClosed, period.State)
	require.Equal(t, closer.ID, *period.ClosedBy)

	_, err = svc.ClosePeriod(ctx, closer, f.Scope(), 4)
	require.ErrorIs(t, err, ledger.ErrInvalidStatus)
	_, err = svc.ClosePeriod(ctx, closer, f.Scope(), 14)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	events := rec.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.KindPeriodClosed, events[0].Kind)
	require.Equal(t, 4, events[0].Period)
	require.Equal(t, 1, metrics.seen["period/closed"])
	require.Equal(t, 1, metrics.seen["period/PendingVouchersExist"])
}

func TestCloseFiscalYear(t *testing.T) {
	f, svc, rec := newService(t)
	locker := &stubLocker{}
	svc.WithLocker(locker)
	ctx := context.Background()

	approved(t, f, 2, f.Line(ledgertest.Bank, 1000, 0), f.Line(ledgertest.Contributions, 0, 1000))
	approved(t, f, 3, f.Line(ledgertest.Receivables, 600, 0), f.Line(ledgertest.Taxes, 0, 600))
	approved(t, f, 3, f.Line(ledgertest.Payroll, 400, 0), f.Line(ledgertest.Bank, 0, 400))

	_, err := svc.CloseFiscalYear(ctx, closer, f.Scope())
	require.ErrorIs(t, err, ledger.ErrInvalidStatus)
	fy, err := svc.GetFiscalYear(ctx, f.Scope())
	require.NoError(t, err)
	require.Equal(t, ledger.YearOpen, fy.State)

	closeAllPeriods(t, svc, f.Scope())
	res, err := svc.CloseFiscalYear(ctx, closer, f.Scope())
	require.NoError(t, err)
	require.False(t, res.Resumed)
	require.Equal(t, ledger.YearClosed, res.FiscalYear.State)
	require.Equal(t, []string{"ledger:close:1:2025:lock", "ledger:close:1:2025:lock"}, locker.keys)
	require.Equal(t, 2, locker.released)

	closing := res.Closing
	require.NotNil(t, closing)
	require.Equal(t, ledger.AdjustmentPeriod, closing.Period)
	require.Equal(t, SourceClosing, closing.Source)
	require.Equal(t, voucherUID(f.Scope(), SourceClosing), closing.UID)
	require.Equal(t, ledger.VoucherApproved, closing.State)
	require.Equal(t, closing.ID, *res.FiscalYear.ClosingVoucherID)
	require.Equal(t, []ledger.JournalLine{
		{LineNo: 1, AccountID: f.AccountID(ledgertest.Taxes), Debit: money.FromUnits(600), Memo: "cierre"},
		{LineNo: 2, AccountID: f.AccountID(ledgertest.Payroll), Credit: money.FromUnits(400), Memo: "cierre"},
		{LineNo: 3, AccountID: f.AccountID(ledgertest.Result), Credit: money.FromUnits(200), Memo: "ahorro del ejercicio"},
	}, closing.Lines)

	require.True(t, cumulative(t, f, f.Scope(), ledgertest.Taxes).IsZero())
	require.True(t, cumulative(t, f, f.Scope(), ledgertest.Payroll).IsZero())
	require.Equal(t, money.FromUnits(200), cumulative(t, f, f.Scope(), ledgertest.Result))

	opening := res.Opening
	require.NotNil(t, opening)
	require.Equal(t, ledgertest.Year+1, opening.Year)
	require.Equal(t, 1, opening.Period)
	require.Equal(t, SourceOpening, opening.Source)
	debit, credit := opening.Totals()
	require.Equal(t, money.FromUnits(1200), debit)
	require.Equal(t, debit, credit)

	next := f.Scope().Next()
	require.Equal(t, money.FromUnits(600), cumulative(t, f, next, ledgertest.Bank))
	require.Equal(t, money.FromUnits(600), cumulative(t, f, next, ledgertest.Receivables))
	require.Equal(t, money.FromUnits(1000), cumulative(t, f, next, ledgertest.Contributions))
	require.Equal(t, money.FromUnits(200), cumulative(t, f, next, ledgertest.Result))
	require.True(t, cumulative(t, f, next, ledgertest.Taxes).IsZero())

	events := rec.Events()
	require.Len(t, events, ledger.PeriodsPerYear+1)
	require.Equal(t, notify.KindFiscalYearClosed, events[len(events)-1].Kind)

	_, err = svc.CloseFiscalYear(ctx, closer, f.Scope())
	require.ErrorIs(t, err, ledger.ErrInvalidStatus)
}

func TestCloseFiscalYearWithoutBalances(t *testing.T) {
	f, svc, _ := newService(t)
	closeAllPeriods(t, svc, f.Scope())

	res, err := svc.CloseFiscalYear(context.Background(), closer, f.Scope())
	require.NoError(t, err)
	require.Nil(t, res.Closing)
	require.Nil(t, res.Opening)
	require.Nil(t, res.FiscalYear.OpeningVoucherID)
	require.Equal(t, ledger.YearClosed, res.FiscalYear.State)
}

func TestCloseFiscalYearBreakEven(t *testing.T) {
	f, svc, _ := newService(t)
	approved(t, f, 5, f.Line(ledgertest.Receivables, 500, 0), f.Line(ledgertest.Taxes, 0, 500))
	approved(t, f, 6, f.Line(ledgertest.Payroll, 500, 0), f.Line(ledgertest.Suppliers, 0, 500))
	closeAllPeriods(t, svc, f.Scope())

	res, err := svc.CloseFiscalYear(context.Background(), closer, f.Scope())
	require.NoError(t, err)
	require.Len(t, res.Closing.Lines, 2)
	for _, line := range res.Closing.Lines {
		require.NotEqual(t, f.AccountID(ledgertest.Result), line.AccountID)
	}
	require.True(t, cumulative(t, f, f.Scope(), ledgertest.Result).IsZero())
	require.Len(t, res.Opening.Lines, 2)
	require.Equal(t, money.FromUnits(500), cumulative(t, f, f.Scope().Next(), ledgertest.Suppliers))
}

func TestCloseFiscalYearAbortsAndResumes(t *testing.T) {
	f, svc, rec := newService(t)
	metrics := &closeMetrics{}
	svc.WithMetrics(metrics)
	ctx := context.Background()
	approved(t, f, 3, f.Line(ledgertest.Payroll, 250, 0), f.Line(ledgertest.Bank, 0, 250))
	closeAllPeriods(t, svc, f.Scope())

	svc.WithResultAccount(ledgertest.Bank)
	_, err := svc.CloseFiscalYear(ctx, closer, f.Scope())
	require.ErrorIs(t, err, ledger.ErrCloseAborted)
	require.ErrorIs(t, err, ledger.ErrInvalidAccountReference)
	require.Equal(t, "CloseAborted", ledger.Kind(err))

	fy, err := svc.GetFiscalYear(ctx, f.Scope())
	require.NoError(t, err)
	require.Equal(t, ledger.YearClosing, fy.State)
	require.Nil(t, fy.ClosingVoucherID)
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		found, err := tx.FindVouchersBySource(ctx, f.Scope(), SourceClosing)
		require.NoError(t, err)
		require.Empty(t, found)
	})

	svc.WithResultAccount(DefaultResultAccountCode)
	res, err := svc.CloseFiscalYear(ctx, closer, f.Scope())
	require.NoError(t, err)
	require.True(t, res.Resumed)
	require.Equal(t, ledger.YearClosed, res.FiscalYear.State)
	require.Equal(t, money.FromUnits(-250), cumulative(t, f, f.Scope(), ledgertest.Result))

	require.Equal(t, 1, metrics.seen["fiscal_year/CloseAborted"])
	require.Equal(t, 1, metrics.seen["fiscal_year/closed"])
	require.Equal(t, notify.KindFiscalYearClosed, rec.Events()[len(rec.Events())-1].Kind)
}

func TestCloseFiscalYearGuards(t *testing.T) {
	f, svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CloseFiscalYear(ctx, ledger.Actor{ID: 2, CanApprove: true}, f.Scope())
	require.ErrorIs(t, err, ledger.ErrForbidden)

	held := errors.New("lock held elsewhere")
	svc.WithLocker(&stubLocker{err: held})
	_, err = svc.CloseFiscalYear(ctx, closer, f.Scope())
	require.ErrorIs(t, err, ledger.ErrCloseAborted)
	require.True(t, errors.Is(err, held))

	fy, err := svc.GetFiscalYear(ctx, f.Scope())
	require.NoError(t, err)
	require.Equal(t, ledger.YearOpen, fy.State)
}
