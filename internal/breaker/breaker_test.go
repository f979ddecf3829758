package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Window:           time.Minute,
		Cooldown:         50 * time.Millisecond,
		FailureThreshold: 0.5,
		MinSamples:       4,
	}
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 10; i++ {
		require.True(t, b.Allow())
		b.Record(true)
	}
	require.Equal(t, Closed, b.State())
}

func TestTripsOpenAboveThreshold(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 2; i++ {
		b.Allow()
		b.Record(true)
	}
	for i := 0; i < 3; i++ {
		b.Allow()
		b.Record(false)
	}
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow(), "open breaker must reject calls before cooldown")
}

func TestHalfOpenProbeRecoversOnSuccess(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 4; i++ {
		b.Allow()
		b.Record(false)
	}
	require.Equal(t, Open, b.State())

	time.Sleep(60 * time.Millisecond)
	require.True(t, b.Allow(), "cooldown elapsed, probe must be allowed")
	require.Equal(t, HalfOpen, b.State())
	require.False(t, b.Allow(), "second concurrent call during probe must be rejected")

	b.Record(true)
	require.Equal(t, Closed, b.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 4; i++ {
		b.Allow()
		b.Record(false)
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, b.Allow())
	b.Record(false)
	require.Equal(t, Open, b.State())
}

func TestCallWrapsAllowAndRecord(t *testing.T) {
	b := New(testConfig())
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		err := b.Call(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, Open, b.State())
	err := b.Call(func() error { return nil })
	require.ErrorIs(t, err, ErrOpen)
}
