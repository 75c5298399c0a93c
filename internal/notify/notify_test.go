package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type failing struct{}

func (failing) Notify(context.Context, Event) error { return errors.New("queue down") }

func TestAsyncDeliversDetachedFromCaller(t *testing.T) {
	rec := &Recorder{}
	async := &Async{Next: rec, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, async.Notify(ctx, Event{Kind: KindPeriodClosed, EntityID: 1, Year: 2025, Period: 3}))
	async.Wait()
	events := rec.Events()
	require.Len(t, events, 1)
	require.Equal(t, 3, events[0].Period)
}

func TestSendSwallowsFailures(t *testing.T) {
	Send(context.Background(), failing{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Event{Kind: KindVoucherRejected})
	Send(context.Background(), nil, nil, Event{Kind: KindVoucherRejected})
	require.NoError(t, Nop{}.Notify(context.Background(), Event{}))
}
