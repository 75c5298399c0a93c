package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
	"github.com/armonia-contable/armonia/internal/platform/db"
)

func TestLockKeySeparatesScopes(t *testing.T) {
	keys := map[int64]ledger.Scope{}
	for _, scope := range []ledger.Scope{
		{EntityID: 1}, {EntityID: 1, Year: 2025}, {EntityID: 1, Year: 2026},
		{EntityID: 2}, {EntityID: 2, Year: 2025},
	} {
		key := LockKey(scope)
		prev, dup := keys[key]
		require.False(t, dup, "%s collides with %s", scope, prev)
		keys[key] = scope
	}
}

func TestMapError(t *testing.T) {
	require.ErrorIs(t, mapError(pgx.ErrNoRows, "voucher 9"), ledger.ErrNotFound)
	require.ErrorContains(t, mapError(pgx.ErrNoRows, "voucher 9"), "voucher 9")

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "conversion_rules_active_key"}
	require.ErrorIs(t, mapError(dup, "rule"), ledger.ErrDuplicateRule)

	code := &pgconn.PgError{Code: "23505", ConstraintName: "accounts_code_key"}
	require.ErrorIs(t, mapError(code, "account code 1.1"), ledger.ErrInvalidInput)

	fk := &pgconn.PgError{Code: "23503"}
	require.ErrorIs(t, mapError(fk, "line item"), ledger.ErrInvalidInput)

	other := errors.New("connection reset")
	require.Equal(t, other, mapError(other, "x"))
	require.NoError(t, mapError(nil, "x"))
}

func TestSchemaDeclaresLedgerTables(t *testing.T) {
	for _, table := range []string{
		"accounts", "classifiers", "line_items", "conversion_rules", "fiscal_years", "periods",
		"budget_totals", "budget_movements", "vouchers", "voucher_lines", "voucher_sequences",
		"account_balances", "applied_vouchers", "approvals", "idempotency_keys", "audit_logs",
	} {
		require.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	for name := range constraintErrors {
		require.Contains(t, Schema(), name)
	}
}

// connect opens the database named by ARMONIA_TEST_PG_DSN (URL form) in a
// fresh schema.
func connect(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ARMONIA_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ARMONIA_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	schemaName := fmt.Sprintf("armonia_test_%d", time.Now().UnixNano())
	admin, err := db.New(ctx, dsn, 2)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schemaName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schemaName+" CASCADE")
		admin.Close()
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	pool, err := db.New(ctx, dsn+sep+"search_path="+schemaName, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "schema is idempotent")
	return NewStore(pool)
}

func TestStoreRoundTrip(t *testing.T) {
	store := connect(t)
	ctx := context.Background()
	scope := ledger.Scope{EntityID: 1, Year: 2025}
	scopes := []ledger.Scope{ledger.CatalogScope(1), scope}
	at := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

	var voucher ledger.Voucher
	err := store.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		bank, err := tx.InsertAccount(ctx, ledger.Account{EntityID: 1, Code: "1", Name: "Bancos", Level: 1,
			Kind: ledger.AccountKindAsset, Nature: ledger.NatureDebit, IsLeaf: true, CreatedAt: at})
		require.NoError(t, err)
		income, err := tx.InsertAccount(ctx, ledger.Account{EntityID: 1, Code: "4", Name: "Ingresos", Level: 1,
			Kind: ledger.AccountKindRevenue, Nature: ledger.NatureCredit, IsLeaf: true, CreatedAt: at})
		require.NoError(t, err)
		_, err = tx.InsertFiscalYear(ctx, ledger.NewFiscalYear(1, 2025))
		require.NoError(t, err)

		voucher, err = tx.InsertVoucher(ctx, ledger.Voucher{
			UID: uuid.New(), EntityID: 1, Year: 2025, Period: 3, Type: ledger.VoucherJournal, Date: at,
			State: ledger.VoucherDraft, CreatedBy: 7, CreatedAt: at, UpdatedAt: at,
			Lines: []ledger.JournalLine{
				{LineNo: 1, AccountID: bank.ID, Debit: money.MustParse("100.37")},
				{LineNo: 2, AccountID: income.ID, Credit: money.MustParse("100.37")},
			},
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), voucher.Number)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.InsertVoucher(ctx, ledger.Voucher{UID: uuid.New(), EntityID: 1, Year: 2025, Period: 3,
			Type: ledger.VoucherJournal, Date: at, State: ledger.VoucherDraft, CreatedAt: at, UpdatedAt: at})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		next, err := tx.InsertVoucher(ctx, ledger.Voucher{UID: uuid.New(), EntityID: 1, Year: 2025, Period: 3,
			Type: ledger.VoucherJournal, Date: at, State: ledger.VoucherDraft, CreatedAt: at, UpdatedAt: at})
		require.NoError(t, err)
		require.Equal(t, int64(2), next.Number, "sequence restored on rollback")

		voucher.State = ledger.VoucherApproved
		voucher.Lines = nil
		require.NoError(t, tx.UpdateVoucher(ctx, voucher))
		applied, err := tx.MarkVoucherApplied(ctx, voucher.ID)
		require.NoError(t, err)
		require.True(t, applied)
		applied, err = tx.MarkVoucherApplied(ctx, voucher.ID)
		require.NoError(t, err)
		require.False(t, applied)
		return nil
	})
	require.NoError(t, err)

	err = store.WithReadTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		got, err := tx.GetVoucher(ctx, voucher.ID)
		require.NoError(t, err)
		require.Equal(t, ledger.VoucherApproved, got.State)
		require.Len(t, got.Lines, 2, "lines survive header updates")
		require.Equal(t, money.MustParse("100.37"), got.Lines[0].Debit)

		fy, err := tx.GetFiscalYear(ctx, scope)
		require.NoError(t, err)
		require.Len(t, fy.Periods, ledger.PeriodsPerYear)

		_, err = tx.GetVoucher(ctx, 999999)
		require.ErrorIs(t, err, ledger.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStoreDuplicateRule(t *testing.T) {
	store := connect(t)
	ctx := context.Background()
	at := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)

	var rule ledger.ConversionRule
	err := store.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(1)}, func(ctx context.Context, tx ledger.TxRepository) error {
		debit, err := tx.InsertAccount(ctx, ledger.Account{EntityID: 1, Code: "8", Name: "Orden", Level: 1,
			Kind: ledger.AccountKindMemoBudget, Nature: ledger.NatureDebit, IsLeaf: true, CreatedAt: at})
		require.NoError(t, err)
		credit, err := tx.InsertAccount(ctx, ledger.Account{EntityID: 1, Code: "9", Name: "Orden acreedora", Level: 1,
			Kind: ledger.AccountKindMemoBudget, Nature: ledger.NatureCredit, IsLeaf: true, CreatedAt: at})
		require.NoError(t, err)
		cog, err := tx.InsertClassifier(ctx, ledger.Classifier{EntityID: 1, Type: ledger.ClassifierObjectOfExpense,
			Code: "1000", Name: "Servicios personales", Level: 1, CreatedAt: at})
		require.NoError(t, err)
		rule, err = tx.InsertRule(ctx, ledger.ConversionRule{EntityID: 1, ClassifierID: cog.ID, Moment: ledger.MomentCommitted,
			DebitAccountID: debit.ID, CreditAccountID: credit.ID, Active: true, CreatedAt: at})
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(1)}, func(ctx context.Context, tx ledger.TxRepository) error {
		dup := rule
		dup.ID = 0
		_, err := tx.InsertRule(ctx, dup)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateRule)

	err = store.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(1)}, func(ctx context.Context, tx ledger.TxRepository) error {
		require.NoError(t, tx.DeactivateRule(ctx, rule.ID))
		replacement := rule
		replacement.ID = 0
		_, err := tx.InsertRule(ctx, replacement)
		return err
	})
	require.NoError(t, err)
}
