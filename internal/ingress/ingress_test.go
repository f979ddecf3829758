package ingress

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/adapter/variable"
	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/mapping"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/store"
)

func newTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"), true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return buffer.New(st, config.Buffer{MaxSize: 100, TTLMinutes: 60, RetryMaxAttempts: 3, BatchSize: 10}, nil)
}

func newTestRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	reg, err := mapping.Load([]config.MappingEntry{
		{
			ID:                 "temp-to-opc",
			SourceSide:         string(message.SidePubSub),
			SourceAddress:      "plant/line1/temperature",
			DestinationSide:    string(message.SideVariable),
			DestinationAddress: "ns=2;s=Line1.Temperature",
			DataType:           string(message.DataTypeFloat),
			Direction:          string(message.DirectionAToB),
			Priority:           "normal",
		},
	})
	require.NoError(t, err)
	return reg
}

func TestRunnerEnqueuesOnMatchingValue(t *testing.T) {
	buf := newTestBuffer(t)
	reg := newTestRegistry(t)
	src := variable.NewClient(0)

	r := New(message.SidePubSub, src, reg, buf, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// give the runner's subscription goroutine time to register before the
	// write races it.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Apply(ctx, "plant/line1/temperature", []byte("21.5")))

	require.Eventually(t, func() bool {
		leased, err := buf.LeaseBatch(ctx, 10, message.SidePubSub, message.SideVariable)
		require.NoError(t, err)
		return len(leased) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandleIgnoresUnmappedAddress(t *testing.T) {
	buf := newTestBuffer(t)
	reg := newTestRegistry(t)
	src := variable.NewClient(0)

	r := New(message.SidePubSub, src, reg, buf, nil)
	require.NoError(t, r.handle(context.Background(), "plant/line1/unmapped", []byte("1")))

	stats, err := buf.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.ByStatus[message.StatusPending])
}
