package egress

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/breaker"
	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/mapping"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/store"
	"github.com/flyingrobots/protocol-bridge/internal/transform"
)

type fakeSink struct {
	mu      sync.Mutex
	applied int
	fail    bool
}

func (f *fakeSink) Apply(ctx context.Context, address string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied++
	if f.fail {
		return errors.New("destination unreachable")
	}
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}

func newTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"), true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return buffer.New(st, config.Buffer{MaxSize: 100, TTLMinutes: 60, RetryMaxAttempts: 3, BatchSize: 10}, nil)
}

func TestPoolCompletesSuccessfulDelivery(t *testing.T) {
	buf := newTestBuffer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := buf.Enqueue(ctx, message.Message{
		Source: message.SidePubSub, Destination: message.SideVariable,
		TopicOrNode: "n1", Value: json.RawMessage(`1`), DataType: message.DataTypeInt32,
		Priority: message.PriorityNormal, MaxRetries: 3,
	})
	require.NoError(t, err)

	sink := &fakeSink{}
	pool := New(message.SideVariable, sink, buf, breaker.New(breaker.Config{Window: time.Minute, Cooldown: time.Second, FailureThreshold: 0.5, MinSamples: 3}), nil, nil, nil, WithPollEvery(10*time.Millisecond))

	go pool.Run(ctx)
	require.Eventually(t, func() bool { return sink.count() == 1 }, 300*time.Millisecond, 10*time.Millisecond)

	stats, err := buf.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ByStatus[message.StatusCompleted])
}

func TestPoolTripsBreakerAndStopsCallingSink(t *testing.T) {
	buf := newTestBuffer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := buf.Enqueue(ctx, message.Message{
			Source: message.SidePubSub, Destination: message.SideVariable,
			TopicOrNode: "n1", Value: json.RawMessage(`1`), DataType: message.DataTypeInt32,
			Priority: message.PriorityNormal, MaxRetries: 3,
		})
		require.NoError(t, err)
	}

	sink := &fakeSink{fail: true}
	var streak int32
	pool := New(message.SideVariable, sink, buf,
		breaker.New(breaker.Config{Window: time.Minute, Cooldown: time.Hour, FailureThreshold: 0.5, MinSamples: 2}),
		nil, nil, nil, WithPollEvery(5*time.Millisecond), WithBatchSize(5),
		WithFailureStreakHook(func(count int) { atomic.StoreInt32(&streak, int32(count)) }))

	go pool.Run(ctx)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&streak) >= 2 }, 300*time.Millisecond, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	appliedAtTrip := sink.count()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, appliedAtTrip, sink.count(), "once the breaker opens the sink must not be called again")
}

// capturingSink records the value it was asked to deliver, so tests can
// assert the egress-time transform actually ran before delivery.
type capturingSink struct {
	mu   sync.Mutex
	last []byte
}

func (c *capturingSink) Apply(ctx context.Context, address string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = append([]byte(nil), value...)
	return nil
}

func (c *capturingSink) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.last)
}

func newTestRegistry(t *testing.T, dataType message.DataType) *mapping.Registry {
	t.Helper()
	reg, err := mapping.Load([]config.MappingEntry{
		{
			ID:                 "m1",
			SourceSide:         string(message.SidePubSub),
			SourceAddress:      "plant/line1/temperature",
			DestinationSide:    string(message.SideVariable),
			DestinationAddress: "n1",
			DataType:           string(dataType),
			Direction:          string(message.DirectionAToB),
			Priority:           "normal",
		},
	})
	require.NoError(t, err)
	return reg
}

func TestProcessAppliesTransformBeforeDelivery(t *testing.T) {
	buf := newTestBuffer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := buf.Enqueue(ctx, message.Message{
		Source: message.SidePubSub, Destination: message.SideVariable,
		TopicOrNode: "n1", MappingID: "m1", Value: json.RawMessage(`"42"`),
		DataType: message.DataTypeInt32, Priority: message.PriorityNormal, MaxRetries: 3,
	})
	require.NoError(t, err)

	sink := &capturingSink{}
	reg := newTestRegistry(t, message.DataTypeInt32)
	pool := New(message.SideVariable, sink, buf, nil, reg, transform.New(), nil, WithPollEvery(10*time.Millisecond))

	go pool.Run(ctx)
	require.Eventually(t, func() bool { return sink.get() != "" }, 300*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, "42", sink.get(), "string \"42\" must be normalized to Int32 42 before the sink sees it")

	stats, err := buf.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ByStatus[message.StatusCompleted])
}

func TestProcessDeadLettersOnTransformFailureAfterRetries(t *testing.T) {
	buf := newTestBuffer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := buf.Enqueue(ctx, message.Message{
		Source: message.SidePubSub, Destination: message.SideVariable,
		TopicOrNode: "n1", MappingID: "m1", Value: json.RawMessage(`"not-a-number"`),
		DataType: message.DataTypeInt32, Priority: message.PriorityNormal, MaxRetries: 1,
	})
	require.NoError(t, err)

	sink := &capturingSink{}
	reg := newTestRegistry(t, message.DataTypeInt32)
	pool := New(message.SideVariable, sink, buf, nil, reg, transform.New(), nil, WithPollEvery(10*time.Millisecond), WithBatchSize(1))

	go pool.Run(ctx)
	require.Eventually(t, func() bool {
		stats, err := buf.Stats(context.Background())
		require.NoError(t, err)
		return stats.DeadLetterCount == 1
	}, 300*time.Millisecond, 10*time.Millisecond)

	require.Empty(t, sink.get(), "sink must never see a value that failed transform")
}
