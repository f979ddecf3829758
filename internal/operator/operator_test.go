package operator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"), true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insert(t *testing.T, st *store.Store, m message.Message) int64 {
	t.Helper()
	tx, err := st.DB().Begin()
	require.NoError(t, err)
	id, err := st.Insert(context.Background(), tx, m)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func TestDetectorFlagsStuckProcessing(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	id := insert(t, st, message.Message{
		Source: message.SidePubSub, Destination: message.SideVariable, TopicOrNode: "n1",
		Value: json.RawMessage(`1`), DataType: message.DataTypeInt32, MaxRetries: 3,
		CreatedAt: now.Add(-time.Hour), ExpireAt: now.Add(time.Hour),
	})
	tx, _ := st.DB().Begin()
	_, err := st.LeaseBatch(context.Background(), tx, 10, "", "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	_ = id

	det := NewDetector(st, Thresholds{
		StuckProcessingAge: time.Minute,
		HighFailureRateWarn: 0.5, HighFailureRateHigh: 0.9,
		QueueBuildupDepthWarn: 1000, QueueBuildupDepthHigh: 5000,
		RouteCongestionDepthWarn: 1000, RouteCongestionDepthHigh: 5000,
		SlowProcessingSec: 999,
	})
	anomalies, err := det.Scan(context.Background())
	require.NoError(t, err)

	found := false
	for _, a := range anomalies {
		if a.Kind == "stuck_processing" {
			found = true
		}
	}
	require.True(t, found)
}

func TestReporterComputesTrend(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		insert(t, st, message.Message{
			Source: message.SidePubSub, Destination: message.SideVariable, TopicOrNode: "n1",
			Value: json.RawMessage(`1`), DataType: message.DataTypeInt32, MaxRetries: 3,
			CreatedAt: now.Add(-2 * time.Hour), ExpireAt: now.Add(time.Hour),
		})
	}
	rep := NewReporter(st)
	report, err := rep.Generate(context.Background(), 24)
	require.NoError(t, err)
	require.NotEmpty(t, report.Buckets)
	require.Contains(t, []string{"increasing", "decreasing", "stable"}, report.Trend)
}

func TestTrendOfComparesLastThreeBucketsAgainstPrior(t *testing.T) {
	mk := func(hoursAgo int, completed, failed int64) HourlyMetric {
		return HourlyMetric{
			HourStart: time.Now().UTC().Add(-time.Duration(hoursAgo) * time.Hour),
			Completed: completed, Failed: failed,
		}
	}

	// Prior buckets (5h-3h ago) are failure-heavy, the most recent 3 are
	// clean, so the trend must read as increasing.
	improving := []HourlyMetric{
		mk(5, 2, 8), mk(4, 2, 8), mk(3, 2, 8),
		mk(2, 10, 0), mk(1, 10, 0), mk(0, 10, 0),
	}
	require.Equal(t, "increasing", trendOf(improving))

	worsening := []HourlyMetric{
		mk(5, 10, 0), mk(4, 10, 0), mk(3, 10, 0),
		mk(2, 2, 8), mk(1, 2, 8), mk(0, 2, 8),
	}
	require.Equal(t, "decreasing", trendOf(worsening))

	require.Equal(t, "stable", trendOf(improving[:3]), "fewer than 4 buckets has no prior window to compare")
}

func TestWorkerUnstableThreshold(t *testing.T) {
	thr := Thresholds{WorkerUnstableCount: 5}
	require.Nil(t, WorkerUnstable(4, thr))
	require.NotNil(t, WorkerUnstable(5, thr))
}

func TestPredictorFallsBackWithoutEnoughSamples(t *testing.T) {
	st := newTestStore(t)
	p := NewPredictor(st)
	preds, err := p.PredictNextHours(context.Background(), time.Now().UTC(), 2)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	require.Zero(t, preds[0].Samples)
}
