package variable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyNotifiesExistingSubscriber(t *testing.T) {
	c := NewClient(0)
	received := make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Subscribe(ctx, "tag.temperature", func(_ context.Context, nodeID string, value []byte) error {
		received <- string(value)
		return nil
	})

	// give Subscribe time to register before the write races it.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Apply(ctx, "tag.temperature", []byte("21.5")))

	select {
	case v := <-received:
		require.Equal(t, "21.5", v)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to be notified")
	}
}

func TestSubscribeDeliversCurrentValueImmediately(t *testing.T) {
	c := NewClient(0)
	require.NoError(t, c.Apply(context.Background(), "tag.pressure", []byte("101")))

	received := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Subscribe(ctx, "tag.pressure", func(_ context.Context, nodeID string, value []byte) error {
		received <- string(value)
		return nil
	})

	select {
	case v := <-received:
		require.Equal(t, "101", v)
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery of current value")
	}
}

func TestGetReturnsLastWrittenValue(t *testing.T) {
	c := NewClient(0)
	_, ok := c.Get("tag.unset")
	require.False(t, ok)

	require.NoError(t, c.Apply(context.Background(), "tag.set", []byte("7")))
	v, ok := c.Get("tag.set")
	require.True(t, ok)
	require.Equal(t, "7", string(v))
}
