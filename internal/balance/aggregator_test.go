package balance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/ledger/ledgertest"
	"github.com/armonia-contable/armonia/internal/money"
)

func approved(f *ledgertest.Fixture, t *testing.T, period int, lines ...ledger.JournalLine) ledger.Voucher {
	return f.Voucher(t, ledger.Voucher{Period: period, State: ledger.VoucherApproved, Lines: lines})
}

func TestApplyVoucherIsIdempotent(t *testing.T) {
	f := ledgertest.New(t)
	agg := NewAggregator(f.Store)
	ctx := context.Background()

	v := approved(f, t, 2,
		f.Line(ledgertest.Payroll, 5_200_000, 0),
		f.Line(ledgertest.Suppliers, 0, 5_200_000),
	)
	applied, err := agg.ApplyVoucher(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = agg.ApplyVoucher(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, applied)

	bal, err := agg.BalanceAsOf(ctx, f.Scope(), f.AccountID(ledgertest.Payroll), 2)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(5_200_000), bal.Balance)

	supplier, err := agg.BalanceAsOf(ctx, f.Scope(), f.AccountID(ledgertest.Suppliers), 2)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(5_200_000), supplier.Balance, "credit nature signs credit minus debit")
}

func TestApplyVoucherRequiresApproval(t *testing.T) {
	f := ledgertest.New(t)
	agg := NewAggregator(f.Store)
	v := f.Voucher(t, ledger.Voucher{Period: 1, State: ledger.VoucherPending, Lines: []ledger.JournalLine{
		f.Line(ledgertest.Bank, 1, 0), f.Line(ledgertest.Contributions, 0, 1),
	}})
	_, err := agg.ApplyVoucher(context.Background(), v.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidStatus)
}

func TestSummaryAndCumulativeBalances(t *testing.T) {
	f := ledgertest.New(t)
	agg := NewAggregator(f.Store)
	ctx := context.Background()

	for period, amount := range map[int]int64{1: 100, 2: 250, 4: 50} {
		v := approved(f, t, period,
			f.Line(ledgertest.Payroll, amount, 0),
			f.Line(ledgertest.Services, amount, 0),
			f.Line(ledgertest.Bank, 0, 2*amount),
		)
		_, err := agg.ApplyVoucher(ctx, v.ID)
		require.NoError(t, err)
	}

	expenses, err := agg.CumulativeThrough(ctx, f.Scope(), f.AccountID("5"), 2)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(700), expenses.Balance)

	expenses, err = agg.CumulativeThrough(ctx, f.Scope(), f.AccountID("5"), 13)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(800), expenses.Balance)

	april, err := agg.BalanceAsOf(ctx, f.Scope(), f.AccountID("5.1.3"), 4)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(50), april.Balance)

	bank, err := agg.CumulativeThrough(ctx, f.Scope(), f.AccountID(ledgertest.Bank), 13)
	require.NoError(t, err)
	require.Equal(t, money.FromUnits(-800), bank.Balance)

	_, err = agg.BalanceAsOf(ctx, f.Scope(), f.AccountID(ledgertest.Bank), 14)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = agg.BalanceAsOf(ctx, f.Scope(), 9999, 1)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestIncrementalMatchesRecomputation(t *testing.T) {
	f := ledgertest.New(t)
	agg := NewAggregator(f.Store)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		v := approved(f, t, i,
			f.Line(ledgertest.Services, int64(i*1000), 0),
			f.Line(ledgertest.Payroll, int64(i*10), 0),
			f.Line(ledgertest.Suppliers, 0, int64(i*1010)),
		)
		_, err := agg.ApplyVoucher(ctx, v.ID)
		require.NoError(t, err)
	}
	f.Voucher(t, ledger.Voucher{Period: 1, State: ledger.VoucherRejected, Lines: []ledger.JournalLine{
		f.Line(ledgertest.Bank, 9, 0), f.Line(ledgertest.Contributions, 0, 9),
	}})

	var stored []ledger.AccountBalance
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		var err error
		stored, err = tx.ListBalances(ctx, f.Scope())
		require.NoError(t, err)
	})
	recomputed, err := agg.Recompute(ctx, f.Scope())
	require.NoError(t, err)
	require.Equal(t, stored, recomputed)

	report, err := agg.Verify(ctx, f.Scope())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 5, report.Vouchers)

	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		require.NoError(t, tx.IncrementBalance(ctx, ledger.AccountBalance{
			EntityID: f.EntityID, Year: f.Year, Period: 3, AccountID: f.AccountID(ledgertest.Services), Debit: 1,
		}))
	})
	report, err = agg.Verify(ctx, f.Scope())
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, 3, report.Mismatches[0].Period)
}

func TestTrialBalanceGroupsByTopCode(t *testing.T) {
	f := ledgertest.New(t)
	agg := NewAggregator(f.Store)
	ctx := context.Background()

	for _, v := range []ledger.Voucher{
		approved(f, t, 1, f.Line(ledgertest.Bank, 1000, 0), f.Line(ledgertest.Contributions, 0, 1000)),
		approved(f, t, 2, f.Line(ledgertest.Services, 300, 0), f.Line(ledgertest.Bank, 0, 300)),
	} {
		_, err := agg.ApplyVoucher(ctx, v.ID)
		require.NoError(t, err)
	}

	tb, err := agg.TrialBalance(ctx, f.Scope(), 2, 13)
	require.NoError(t, err)
	require.True(t, tb.Balanced())
	require.Equal(t, money.FromUnits(300), tb.TotalDebit)
	require.Len(t, tb.Groups, 3)
	require.Equal(t, "1", tb.Groups[0].Key)
	bank := tb.Groups[0].Accounts[0]
	require.Equal(t, money.FromUnits(1000), bank.Opening)
	require.Equal(t, money.FromUnits(700), bank.Closing)
}
