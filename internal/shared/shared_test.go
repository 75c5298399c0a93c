package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestActorWithCapabilities(t *testing.T) {
	actor := ActorWithCapabilities(7, "vouchers.approve, other")
	require.Equal(t, int64(7), actor.ID)
	require.True(t, actor.CanApprove)
	require.False(t, actor.CanClose)

	ctx := ContextWithActor(context.Background(), actor)
	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, actor, got)
}

func TestIdempotencyBuffer(t *testing.T) {
	ctx := context.Background()
	var buf IdempotencyBuffer
	require.NoError(t, buf.CheckAndInsert(ctx, "k1", "budget.movement"))
	require.ErrorIs(t, buf.CheckAndInsert(ctx, "k1", "budget.movement"), ErrIdempotencyConflict)
	require.NoError(t, buf.CheckAndInsert(ctx, "k1", "journal.voucher"))
	require.NoError(t, buf.Delete(ctx, "k1", "budget.movement"))
	require.NoError(t, buf.CheckAndInsert(ctx, "k1", "budget.movement"))
	require.Error(t, buf.CheckAndInsert(ctx, "", "budget.movement"))
}

func TestApprovalBufferOrdersByInsertion(t *testing.T) {
	ctx := context.Background()
	var buf ApprovalBuffer
	ref := uuid.New()
	require.NoError(t, buf.Record(ctx, ApprovalLog{Module: "voucher", RefID: ref, ActorID: 1, Action: ApprovalSubmit}))
	require.NoError(t, buf.Record(ctx, ApprovalLog{Module: "voucher", RefID: ref, ActorID: 2, Action: ApprovalApprove}))
	require.NoError(t, buf.Record(ctx, ApprovalLog{Module: "voucher", RefID: uuid.New(), ActorID: 2, Action: ApprovalReject}))
	logs, err := buf.List(ctx, "voucher", ref)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, ApprovalApprove, logs[1].Action)
	require.Error(t, buf.Record(ctx, ApprovalLog{Module: "voucher"}))
}

func TestAuditBufferValidates(t *testing.T) {
	var buf AuditBuffer
	require.Error(t, buf.Record(context.Background(), AuditLog{Action: "x"}))
	require.NoError(t, buf.Record(context.Background(), AuditLog{Action: "voucher.approve", Entity: "voucher", EntityID: "1"}))
	require.Len(t, buf.Entries(), 1)
	require.Equal(t, "ledger:close:1:2025:lock", CloseLockKey(1, 2025))
}
