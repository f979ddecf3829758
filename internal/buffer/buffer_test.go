package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/store"
)

func newTestBuffer(t *testing.T, cfg config.Buffer) *Buffer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"), true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100
	}
	if cfg.TTLMinutes == 0 {
		cfg.TTLMinutes = 60
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	return New(st, cfg, nil)
}

func sampleMessage() message.Message {
	return message.Message{
		Source:      message.SidePubSub,
		Destination: message.SideVariable,
		TopicOrNode: "sensors/temp",
		Value:       json.RawMessage(`23.4`),
		DataType:    message.DataTypeFloat,
		Priority:    message.PriorityNormal,
	}
}

func TestEnqueueAndLease(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{})
	ctx := context.Background()

	id, err := b.Enqueue(ctx, sampleMessage())
	require.NoError(t, err)
	require.Positive(t, id)

	leased, err := b.LeaseBatch(ctx, 10, "", "")
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, message.StatusProcessing, leased[0].Status)
}

func TestCompleteMarksTerminal(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, sampleMessage())
	require.NoError(t, err)
	leased, err := b.LeaseBatch(ctx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, leased[0]))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ByStatus[message.StatusCompleted])
}

func TestFailRequeuesUntilRetriesExhausted(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{RetryMaxAttempts: 2})
	ctx := context.Background()

	m := sampleMessage()
	m.MaxRetries = 2
	_, err := b.Enqueue(ctx, m)
	require.NoError(t, err)

	// With max_retries=2, the message must survive two fail() calls as
	// pending (retry_count 0->1->2) and only dead-letter on the third, with
	// retry_count=2 recorded in the dead-letter row.
	for i := 0; i < 2; i++ {
		leased, err := b.LeaseBatch(ctx, 10, "", "")
		require.NoError(t, err)
		require.Len(t, leased, 1)
		require.NoError(t, b.Fail(ctx, leased[0], errors.New("timeout")))

		stats, err := b.Stats(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, stats.ByStatus[message.StatusPending], "failure %d must requeue, not dead-letter", i+1)
		require.EqualValues(t, 0, stats.DeadLetterCount)
	}

	leased, err := b.LeaseBatch(ctx, 10, "", "")
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.EqualValues(t, 2, leased[0].RetryCount)
	require.NoError(t, b.Fail(ctx, leased[0], errors.New("timeout again")))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.DeadLetterCount, "exhausted retries must dead-letter")

	dl, err := b.ExportDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dl, 1)
	require.EqualValues(t, 2, dl[0].RetryCount, "dead-letter row must record the pre-increment retry count")
}

func TestPriorityLimitRejectsOverLimitEnqueue(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{
		PriorityLimits: config.PriorityLimits{Normal: 1},
	})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, sampleMessage())
	require.NoError(t, err)

	_, err = b.Enqueue(ctx, sampleMessage())
	require.ErrorIs(t, err, ErrPriorityLimitReached)
}

func TestCompletedRowsDoNotCountTowardMaxSize(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{MaxSize: 1, BatchSize: 5})
	ctx := context.Background()

	id, err := b.Enqueue(ctx, sampleMessage())
	require.NoError(t, err)
	leased, err := b.LeaseBatch(ctx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, leased[0]))
	_ = id

	_, err = b.Enqueue(ctx, sampleMessage())
	require.NoError(t, err, "max_size counts pending rows only, so a completed row must not block a new enqueue")
}

func TestSweepExpiresAndCounts(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{TTLMinutes: 1})
	ctx := context.Background()

	m := sampleMessage()
	m.ExpireAt = time.Now().UTC().Add(-time.Second)
	_, err := b.Enqueue(ctx, m)
	require.NoError(t, err)

	require.NoError(t, b.Sweep(ctx))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ByStatus[message.StatusExpired])
}

func TestResetProcessingRecoversLeases(t *testing.T) {
	b := newTestBuffer(t, config.Buffer{})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, sampleMessage())
	require.NoError(t, err)
	_, err = b.LeaseBatch(ctx, 10, "", "")
	require.NoError(t, err)

	n, err := b.ResetProcessing(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
