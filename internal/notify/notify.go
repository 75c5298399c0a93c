// Package notify carries the fire-and-forget events emitted by the journal
// and closing engines.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind enumerates notification events.
type Kind string

const (
	KindVoucherRejected  Kind = "voucher.rejected"
	KindPeriodClosed     Kind = "period.closed"
	KindFiscalYearClosed Kind = "fiscal_year.closed"
)

// Event describes something downstream collaborators may want to hear about.
type Event struct {
	Kind      Kind      `json:"kind"`
	EntityID  int64     `json:"entity_id"`
	Year      int       `json:"year"`
	Period    int       `json:"period,omitempty"`
	VoucherID int64     `json:"voucher_id,omitempty"`
	ActorID   int64     `json:"actor_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

// Send delivers the event and only logs failures; callers never wait on
// or fail because of notifications.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, event Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, event); err != nil && logger != nil {
		logger.Warn("notification failed", slog.String("kind", string(event.Kind)), slog.Int64("entity_id", event.EntityID), slog.Any("error", err))
	}
}

// Async hands events to Next on a background goroutine detached from the
// caller's cancellation.
type Async struct {
	Next   Notifier
	Logger *slog.Logger
	wg     sync.WaitGroup
}

// Notify implements Notifier and always returns nil.
func (a *Async) Notify(ctx context.Context, event Event) error {
	detached := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		Send(detached, a.Next, a.Logger, event)
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
