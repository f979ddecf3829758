package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.db")
	s, err := Open(path, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleMessage() message.Message {
	now := time.Now().UTC()
	return message.Message{
		Source:      message.SidePubSub,
		Destination: message.SideVariable,
		TopicOrNode: "sensors/temp",
		Value:       json.RawMessage(`23.4`),
		DataType:    message.DataTypeFloat,
		Priority:    message.PriorityNormal,
		MaxRetries:  3,
		CreatedAt:   now,
		ExpireAt:    now.Add(time.Hour),
	}
}

func TestInsertAndLease(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tx, err := s.DB().Begin()
	require.NoError(t, err)
	id, err := s.Insert(ctx, tx, sampleMessage())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Positive(t, id)

	tx, err = s.DB().Begin()
	require.NoError(t, err)
	leased, err := s.LeaseBatch(ctx, tx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, leased, 1)
	require.Equal(t, message.StatusProcessing, leased[0].Status)

	tx, err = s.DB().Begin()
	require.NoError(t, err)
	leased2, err := s.LeaseBatch(ctx, tx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Empty(t, leased2, "already-processing rows must not be leased again")
}

func TestLeaseOrdersByPriorityThenAge(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	low := sampleMessage()
	low.Priority = message.PriorityLow
	high := sampleMessage()
	high.Priority = message.PriorityHigh
	high.CreatedAt = low.CreatedAt.Add(time.Second)

	tx, _ := s.DB().Begin()
	_, err := s.Insert(ctx, tx, low)
	require.NoError(t, err)
	_, err = s.Insert(ctx, tx, high)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, _ = s.DB().Begin()
	leased, err := s.LeaseBatch(ctx, tx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, leased, 2)
	require.Equal(t, message.PriorityHigh, leased[0].Priority, "higher priority must lease first")
}

func TestCompleteRequiresLeasedState(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tx, _ := s.DB().Begin()
	id, err := s.Insert(ctx, tx, sampleMessage())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, _ = s.DB().Begin()
	err = s.Complete(ctx, tx, id, time.Now())
	require.NoError(t, err, "pending rows may also be completed directly")
	require.NoError(t, tx.Commit())

	tx, _ = s.DB().Begin()
	err = s.Complete(ctx, tx, id, time.Now())
	require.Error(t, err, "completing an already-completed row must fail")
	_ = tx.Rollback()
}

func TestMarkFailedWritesDeadLetter(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tx, _ := s.DB().Begin()
	id, err := s.Insert(ctx, tx, sampleMessage())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	m, err := s.GetByID(ctx, id)
	require.NoError(t, err)

	tx, _ = s.DB().Begin()
	require.NoError(t, s.MarkFailed(ctx, tx, m, "destination unreachable"))
	require.NoError(t, tx.Commit())

	n, err := s.DeadLetterCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestExpirePastTTL(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	expired := sampleMessage()
	expired.ExpireAt = time.Now().UTC().Add(-time.Minute)

	tx, _ := s.DB().Begin()
	_, err := s.Insert(ctx, tx, expired)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	n, err := s.ExpirePastTTL(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := s.StatsByStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats[message.StatusExpired])
}

func TestResetProcessingRecoversCrashedLeases(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tx, _ := s.DB().Begin()
	_, err := s.Insert(ctx, tx, sampleMessage())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, _ = s.DB().Begin()
	_, err = s.LeaseBatch(ctx, tx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	n, err := s.ResetProcessing(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := s.StatsByStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats[message.StatusPending])
}
