// Package operator implements the Operator Surface (C7): performance
// reporting, anomaly detection, and short-horizon load prediction, all
// read-only views over the store's historical rows.
package operator

import (
	"context"
	"time"

	"github.com/flyingrobots/protocol-bridge/internal/store"
)

// HourlyMetric is one bucket of the performance report.
type HourlyMetric struct {
	HourStart     time.Time `json:"hour_start"`
	Created       int64     `json:"created"`
	Completed     int64     `json:"completed"`
	Failed        int64     `json:"failed"`
	SuccessRate   float64   `json:"success_rate"` // completed / (completed+failed), 0 when neither occurred
	AvgLatencySec float64   `json:"avg_latency_sec"`
	MaxLatencySec float64   `json:"max_latency_sec"`
}

// Report is the full performance-report payload produced on the
// report_interval cadence.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowHours int            `json:"window_hours"`
	Buckets     []HourlyMetric `json:"buckets"`
	SuccessRate float64        `json:"success_rate"` // completed / (completed+failed) across the whole window
	Trend       string         `json:"trend"`         // "increasing", "decreasing", "stable"
}

// Reporter computes Report snapshots from the store's message history.
type Reporter struct {
	st *store.Store
}

func NewReporter(st *store.Store) *Reporter { return &Reporter{st: st} }

// Generate builds a report covering the trailing windowHours.
func (r *Reporter) Generate(ctx context.Context, windowHours int) (Report, error) {
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)
	raw, err := r.st.HourlyBuckets(ctx, since)
	if err != nil {
		return Report{}, err
	}

	buckets := make([]HourlyMetric, 0, len(raw))
	for _, b := range raw {
		buckets = append(buckets, HourlyMetric{
			HourStart: b.HourStart, Created: b.Created, Completed: b.Completed,
			Failed: b.Failed, SuccessRate: successRate(b.Completed, b.Failed),
			AvgLatencySec: b.AvgLatencySec, MaxLatencySec: b.MaxLatencySec,
		})
	}
	sortByHour(buckets)

	return Report{
		GeneratedAt: time.Now().UTC(),
		WindowHours: windowHours,
		Buckets:     buckets,
		SuccessRate: overallSuccessRate(buckets),
		Trend:       trendOf(buckets),
	}, nil
}

func sortByHour(b []HourlyMetric) {
	for i := 1; i < len(b); i++ {
		for j := i; j > 0 && b[j].HourStart.Before(b[j-1].HourStart); j-- {
			b[j], b[j-1] = b[j-1], b[j]
		}
	}
}

// trendOf compares the success rate of the last 3 buckets against the
// buckets preceding them. With fewer than 4 buckets there is no prior
// window to compare against, so the trend is reported as stable.
func trendOf(b []HourlyMetric) string {
	if len(b) < 4 {
		return "stable"
	}
	recent := b[len(b)-3:]
	prior := b[:len(b)-3]

	recentRate := overallSuccessRate(recent)
	priorRate := overallSuccessRate(prior)

	const epsilon = 0.02
	switch {
	case recentRate > priorRate+epsilon:
		return "increasing"
	case recentRate < priorRate-epsilon:
		return "decreasing"
	default:
		return "stable"
	}
}

func successRate(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

func overallSuccessRate(b []HourlyMetric) float64 {
	var completed, failed int64
	for _, m := range b {
		completed += m.Completed
		failed += m.Failed
	}
	return successRate(completed, failed)
}
