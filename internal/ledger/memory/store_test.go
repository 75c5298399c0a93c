package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

func TestWithTxRollsBackEveryWrite(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	scope := ledger.Scope{EntityID: 1, Year: 2025}
	boom := errors.New("boom")

	err := store.WithTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.InsertFiscalYear(ctx, ledger.NewFiscalYear(1, 2025))
		require.NoError(t, err)
		require.NoError(t, tx.AddBudgetTotal(ctx, 9, ledger.MomentApproved, money.FromUnits(100)))
		v, err := tx.InsertVoucher(ctx, ledger.Voucher{EntityID: 1, Year: 2025, Type: ledger.VoucherJournal})
		require.NoError(t, err)
		require.Equal(t, int64(1), v.Number)
		applied, err := tx.MarkVoucherApplied(ctx, v.ID)
		require.NoError(t, err)
		require.True(t, applied)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.WithReadTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.GetFiscalYear(ctx, scope)
		require.ErrorIs(t, err, ledger.ErrNotFound)
		totals, err := tx.GetBudgetTotals(ctx, 9)
		require.NoError(t, err)
		require.True(t, totals[ledger.MomentApproved].IsZero())
		vouchers, err := tx.ListVouchers(ctx, scope, 0)
		require.NoError(t, err)
		require.Empty(t, vouchers)
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		v, err := tx.InsertVoucher(ctx, ledger.Voucher{EntityID: 1, Year: 2025, Type: ledger.VoucherJournal})
		require.NoError(t, err)
		require.Equal(t, int64(1), v.Number, "sequence restored on rollback")
		return nil
	})
	require.NoError(t, err)
}

func TestReadTxRefusesWrites(t *testing.T) {
	store := NewStore()
	err := store.WithReadTx(context.Background(), nil, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.InsertMovement(ctx, ledger.BudgetMovement{})
		return err
	})
	require.ErrorIs(t, err, errReadOnly)
}

func TestReadTxWaitsForInFlightWriter(t *testing.T) {
	store := NewStore()
	written := make(chan struct{})
	failed := errors.New("writer failed")
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(context.Background(), []ledger.Scope{{EntityID: 1, Year: 2025}}, func(ctx context.Context, tx ledger.TxRepository) error {
			if _, err := tx.InsertVoucher(ctx, ledger.Voucher{EntityID: 1, Year: 2025, Type: ledger.VoucherJournal, State: ledger.VoucherDraft}); err != nil {
				return err
			}
			close(written)
			time.Sleep(20 * time.Millisecond)
			return failed
		})
	}()
	<-written

	err := store.WithReadTx(context.Background(), nil, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.GetVoucher(ctx, 1)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound, "a rolled back voucher is never visible")
	require.ErrorIs(t, <-done, failed)
}

func TestMarkVoucherAppliedOnce(t *testing.T) {
	store := NewStore()
	err := store.WithTx(context.Background(), nil, func(ctx context.Context, tx ledger.TxRepository) error {
		first, err := tx.MarkVoucherApplied(ctx, 7)
		require.NoError(t, err)
		second, err := tx.MarkVoucherApplied(ctx, 7)
		require.NoError(t, err)
		require.True(t, first)
		require.False(t, second)
		return nil
	})
	require.NoError(t, err)
}

func TestDuplicateActiveRule(t *testing.T) {
	store := NewStore()
	err := store.WithTx(context.Background(), nil, func(ctx context.Context, tx ledger.TxRepository) error {
		rule := ledger.ConversionRule{EntityID: 1, ClassifierID: 5, Moment: ledger.MomentPaid, DebitAccountID: 1, CreditAccountID: 2, Active: true}
		first, err := tx.InsertRule(ctx, rule)
		require.NoError(t, err)
		_, err = tx.InsertRule(ctx, rule)
		require.ErrorIs(t, err, ledger.ErrDuplicateRule)
		require.NoError(t, tx.DeactivateRule(ctx, first.ID))
		_, err = tx.InsertRule(ctx, rule)
		return err
	})
	require.NoError(t, err)
}

func TestScopesSerializeTransactions(t *testing.T) {
	store := NewStore()
	scope := ledger.Scope{EntityID: 1, Year: 2025}
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithTx(context.Background(), []ledger.Scope{scope, ledger.CatalogScope(1)}, func(ctx context.Context, tx ledger.TxRepository) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), peak)
}

func TestAcquireHonoursContext(t *testing.T) {
	store := NewStore()
	scope := ledger.Scope{EntityID: 1, Year: 2025}
	release, err := store.acquire(context.Background(), []ledger.Scope{scope})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = store.WithTx(ctx, []ledger.Scope{scope}, func(context.Context, ledger.TxRepository) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
