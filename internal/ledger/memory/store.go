// Package memory provides an in-process implementation of the ledger
// repository ports. Transactions serialize per scope and roll back through
// an undo log, matching the contract of the Postgres store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/armonia-contable/armonia/internal/ledger"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type seqKey struct {
	scope ledger.Scope
	typ   ledger.VoucherType
}

type balanceKey struct {
	scope     ledger.Scope
	period    int
	accountID int64
}

// Store keeps every ledger table in maps guarded by mu. Scope semaphores
// are held for the lifetime of a transaction. Writers apply changes in
// place and undo them on failure, so commitMu keeps read-only transactions
// out while any writer is in flight: reads only observe committed rows.
type Store struct {
	mu       sync.Mutex
	commitMu sync.RWMutex

	nextID      int64
	accounts    map[int64]ledger.Account
	classifiers map[int64]ledger.Classifier
	lineItems   map[int64]ledger.LineItem
	rules       map[int64]ledger.ConversionRule
	years       map[ledger.Scope]ledger.FiscalYear
	totals      map[int64]ledger.BudgetTotals
	movements   map[int64]ledger.BudgetMovement
	vouchers    map[int64]ledger.Voucher
	sequences   map[seqKey]int64
	balances    map[balanceKey]ledger.AccountBalance
	applied     map[int64]bool

	locksMu sync.Mutex
	locks   map[ledger.Scope]chan struct{}
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		accounts:    make(map[int64]ledger.Account),
		classifiers: make(map[int64]ledger.Classifier),
		lineItems:   make(map[int64]ledger.LineItem),
		rules:       make(map[int64]ledger.ConversionRule),
		years:       make(map[ledger.Scope]ledger.FiscalYear),
		totals:      make(map[int64]ledger.BudgetTotals),
		movements:   make(map[int64]ledger.BudgetMovement),
		vouchers:    make(map[int64]ledger.Voucher),
		sequences:   make(map[seqKey]int64),
		balances:    make(map[balanceKey]ledger.AccountBalance),
		applied:     make(map[int64]bool),
		locks:       make(map[ledger.Scope]chan struct{}),
	}
}

// WithTx runs fn holding the supplied scopes. Writes are undone when fn fails.
func (s *Store) WithTx(ctx context.Context, scopes []ledger.Scope, fn func(context.Context, ledger.TxRepository) error) error {
	return s.run(ctx, scopes, false, fn)
}

// WithReadTx runs fn holding the supplied scopes without allowing writes.
func (s *Store) WithReadTx(ctx context.Context, scopes []ledger.Scope, fn func(context.Context, ledger.TxRepository) error) error {
	return s.run(ctx, scopes, true, fn)
}

func (s *Store) run(ctx context.Context, scopes []ledger.Scope, readOnly bool, fn func(context.Context, ledger.TxRepository) error) error {
	release, err := s.acquire(ctx, scopes)
	if err != nil {
		return err
	}
	defer release()
	// taken after every scope so a holder never waits on a semaphore
	if readOnly {
		s.commitMu.Lock()
		defer s.commitMu.Unlock()
	} else {
		s.commitMu.RLock()
		defer s.commitMu.RUnlock()
	}

	t := &tx{store: s, readOnly: readOnly}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) semaphore(scope ledger.Scope) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[scope]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[scope] = sem
	}
	return sem
}

// acquire locks scopes in a stable order so overlapping transactions
// cannot deadlock.
func (s *Store) acquire(ctx context.Context, scopes []ledger.Scope) (func(), error) {
	ordered := ledger.SortScopes(scopes)
	held := make([]chan struct{}, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, scope := range ordered {
		sem := s.semaphore(scope)
		select {
		case sem <- struct{}{}:
			held = append(held, sem)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

type tx struct {
	store    *Store
	readOnly bool
	undo     []func()
}

func (t *tx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// begin locks the store state for one repository call.
func (t *tx) begin(write bool) (func(), error) {
	if write && t.readOnly {
		return nil, errReadOnly
	}
	t.store.mu.Lock()
	return t.store.mu.Unlock, nil
}

func (t *tx) id() int64 {
	t.store.nextID++
	return t.store.nextID
}

func put[K comparable, V any](t *tx, m map[K]V, key K, value V) {
	prev, existed := m[key]
	t.undo = append(t.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
	m[key] = value
}

func remove[K comparable, V any](t *tx, m map[K]V, key K) {
	prev, existed := m[key]
	if !existed {
		return
	}
	t.undo = append(t.undo, func() { m[key] = prev })
	delete(m, key)
}

func sortedByID[V any](m map[int64]V, keep func(V) bool) []V {
	ids := make([]int64, 0, len(m))
	for id, v := range m {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

var _ ledger.RepositoryPort = (*Store)(nil)
var _ ledger.TxRepository = (*tx)(nil)
