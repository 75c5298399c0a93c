// Package postgres implements the ledger repository ports on PostgreSQL.
// Each transaction takes a transaction-scoped advisory lock per scope, in
// the same order as the memory store, so ceiling checks and balance
// increments are serialized per (entity, year).
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/platform/db"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schema
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("ledger/postgres: acquire: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Conn().PgConn().Exec(ctx, schema).ReadAll(); err != nil {
		return fmt.Errorf("ledger/postgres: migrate: %w", err)
	}
	return nil
}

// Store persists the ledger in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn in a read committed transaction holding exclusive scope locks.
func (s *Store) WithTx(ctx context.Context, scopes []ledger.Scope, fn func(context.Context, ledger.TxRepository) error) error {
	return db.WithTx(ctx, s.pool, db.ReadCommitted(), func(tx pgx.Tx) error {
		if err := lockScopes(ctx, tx, scopes, false); err != nil {
			return err
		}
		return fn(ctx, &txRepository{tx: tx})
	})
}

// WithReadTx runs fn in a read-only transaction. Shared scope locks wait
// for in-flight writers so reads never observe a half-applied mutation.
func (s *Store) WithReadTx(ctx context.Context, scopes []ledger.Scope, fn func(context.Context, ledger.TxRepository) error) error {
	return db.WithTx(ctx, s.pool, db.ReadOnly(), func(tx pgx.Tx) error {
		if err := lockScopes(ctx, tx, scopes, true); err != nil {
			return err
		}
		return fn(ctx, &txRepository{tx: tx})
	})
}

// LockKey folds a scope into the bigint advisory lock space. Year 0 is the
// entity catalog scope.
func LockKey(scope ledger.Scope) int64 {
	return scope.EntityID<<16 | int64(scope.Year&0xffff)
}

func lockScopes(ctx context.Context, tx pgx.Tx, scopes []ledger.Scope, shared bool) error {
	stmt := `SELECT pg_advisory_xact_lock($1)`
	if shared {
		stmt = `SELECT pg_advisory_xact_lock_shared($1)`
	}
	for _, scope := range ledger.SortScopes(scopes) {
		if _, err := tx.Exec(ctx, stmt, LockKey(scope)); err != nil {
			return fmt.Errorf("ledger/postgres: lock scope %s: %w", scope, err)
		}
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

var _ ledger.RepositoryPort = (*Store)(nil)
var _ ledger.TxRepository = (*txRepository)(nil)

// constraintErrors maps unique constraints to the ledger taxonomy.
var constraintErrors = map[string]error{
	"conversion_rules_active_key": ledger.ErrDuplicateRule,
	"accounts_code_key":           ledger.ErrInvalidInput,
	"classifiers_code_key":        ledger.ErrInvalidInput,
	"line_items_code_key":         ledger.ErrInvalidInput,
	"fiscal_years_year_key":       ledger.ErrInvalidInput,
}

// mapError translates driver errors. what names the record for messages.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if target, ok := constraintErrors[pgErr.ConstraintName]; ok {
				return fmt.Errorf("%w: %s already exists", target, what)
			}
			return fmt.Errorf("%w: %s already exists", ledger.ErrInvalidInput, what)
		case "23503":
			return fmt.Errorf("%w: %s references a missing record", ledger.ErrInvalidInput, what)
		case "23514":
			return fmt.Errorf("%w: %s violates %s", ledger.ErrInvalidInput, what, pgErr.ConstraintName)
		}
	}
	return err
}

// mustAffect reports ErrNotFound when an UPDATE or DELETE matched nothing.
func mustAffect(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return mapError(err, what)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, what)
	}
	return nil
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
