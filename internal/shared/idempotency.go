package shared

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

func checkKey(key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if err := checkKey(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if err := checkKey(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}

type idempotencyEntry struct {
	key    string
	module string
}

// IdempotencyBuffer keeps processed keys in memory for the embedded store.
type IdempotencyBuffer struct {
	mu   sync.Mutex
	keys map[idempotencyEntry]time.Time
}

// CheckAndInsert ensures key uniqueness per module.
func (b *IdempotencyBuffer) CheckAndInsert(_ context.Context, key, module string) error {
	if err := checkKey(key, module); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keys == nil {
		b.keys = make(map[idempotencyEntry]time.Time)
	}
	entry := idempotencyEntry{key: key, module: module}
	if _, ok := b.keys[entry]; ok {
		return ErrIdempotencyConflict
	}
	b.keys[entry] = time.Now()
	return nil
}

// Cleanup removes entries older than retention.
func (b *IdempotencyBuffer) Cleanup(_ context.Context, olderThan time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	for entry, at := range b.keys {
		if at.Before(cutoff) {
			delete(b.keys, entry)
		}
	}
	return nil
}

// Delete removes a key.
func (b *IdempotencyBuffer) Delete(_ context.Context, key, module string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, idempotencyEntry{key: key, module: module})
	return nil
}
