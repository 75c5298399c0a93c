// Package lock provides a redis-backed distributed mutex.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indicates the lock is held by someone else.
var ErrNotAcquired = errors.New("lock not acquired")

// Options configures lock acquisition.
type Options struct {
	// Expiry bounds how long a crashed holder keeps the lock.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suits a fiscal year close.
func DefaultOptions() Options {
	return Options{Expiry: 2 * time.Minute, Tries: 3, RetryDelay: 500 * time.Millisecond}
}

// Locker hands out redsync mutexes.
type Locker struct {
	rs   *redsync.Redsync
	opts Options
}

// New constructs a Locker over the redis client.
func New(client redis.UniversalClient, opts Options) *Locker {
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Locker{rs: redsync.New(goredis.NewPool(client)), opts: opts}
}

// Lock acquires key and returns the function releasing it.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
	}
	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("release %s: lock expired", key)
		}
		return nil
	}, nil
}

// WithLock runs fn while holding key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) (err error) {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := unlock(ctx); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn(ctx)
}
