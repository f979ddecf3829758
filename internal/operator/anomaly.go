package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/obs"
	"github.com/flyingrobots/protocol-bridge/internal/store"
)

// Severity classifies how urgently an anomaly needs operator attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Anomaly is one detected condition, ready to surface on the CLI, API, or TUI.
type Anomaly struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Route    string   `json:"route,omitempty"`
}

// Thresholds tunes when each detector fires. The three checks that carry a
// dual-tier escalation (failure rate, queue depth, route congestion) expose
// both a Warn and a High threshold; Scan reports SeverityCritical once the
// High tier is crossed and SeverityWarning between Warn and High.
type Thresholds struct {
	StuckProcessingAge time.Duration

	HighFailureRateWarn float64 // fraction of completed+failed that is failed
	HighFailureRateHigh float64

	QueueBuildupDepthWarn int64
	QueueBuildupDepthHigh int64

	RouteCongestionDepthWarn int64
	RouteCongestionDepthHigh int64

	SlowProcessingSec    float64
	WorkerUnstableCount  int
	WorkerUnstableWindow time.Duration
}

// Detector evaluates the current store state against Thresholds.
type Detector struct {
	st  *store.Store
	thr Thresholds
}

func NewDetector(st *store.Store, thr Thresholds) *Detector {
	return &Detector{st: st, thr: thr}
}

// Scan runs every anomaly check and returns whatever currently applies,
// also updating the bridge_anomalies_active gauge.
func (d *Detector) Scan(ctx context.Context) ([]Anomaly, error) {
	var out []Anomaly

	stuck, err := d.st.ProcessingOlderThan(ctx, d.thr.StuckProcessingAge)
	if err != nil {
		return nil, fmt.Errorf("stuck-processing check: %w", err)
	}
	if stuck > 0 {
		out = append(out, Anomaly{Kind: "stuck_processing", Severity: SeverityCritical,
			Message: fmt.Sprintf("%d message(s) stuck in processing longer than %s", stuck, d.thr.StuckProcessingAge)})
	}

	byStatus, err := d.st.StatsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("status stats: %w", err)
	}
	total := byStatus[message.StatusCompleted] + byStatus[message.StatusFailed]
	if total > 0 {
		rate := float64(byStatus[message.StatusFailed]) / float64(total)
		if rate >= d.thr.HighFailureRateWarn {
			sev := SeverityWarning
			if rate >= d.thr.HighFailureRateHigh {
				sev = SeverityCritical
			}
			out = append(out, Anomaly{Kind: "high_failure_rate", Severity: sev,
				Message: fmt.Sprintf("failure rate %.1f%% exceeds threshold %.1f%%", rate*100, d.thr.HighFailureRateWarn*100)})
		}
	}

	pendingDepth := byStatus[message.StatusPending]
	if pendingDepth >= d.thr.QueueBuildupDepthWarn {
		sev := SeverityWarning
		if pendingDepth >= d.thr.QueueBuildupDepthHigh {
			sev = SeverityCritical
		}
		out = append(out, Anomaly{Kind: "queue_buildup", Severity: sev,
			Message: fmt.Sprintf("pending depth %d at or above threshold %d", pendingDepth, d.thr.QueueBuildupDepthWarn)})
	}

	nearExhaustion, err := d.st.NearRetryExhaustion(ctx)
	if err != nil {
		return nil, fmt.Errorf("retry exhaustion check: %w", err)
	}
	if nearExhaustion > 0 {
		out = append(out, Anomaly{Kind: "near_retry_exhaustion", Severity: SeverityWarning,
			Message: fmt.Sprintf("%d message(s) one retry away from dead-lettering", nearExhaustion)})
	}

	routes, err := d.st.RouteCongestion(ctx)
	if err != nil {
		return nil, fmt.Errorf("route congestion check: %w", err)
	}
	for route, depth := range routes {
		if depth >= d.thr.RouteCongestionDepthWarn {
			sev := SeverityWarning
			if depth >= d.thr.RouteCongestionDepthHigh {
				sev = SeverityCritical
			}
			out = append(out, Anomaly{Kind: "route_congestion", Severity: sev, Route: route,
				Message: fmt.Sprintf("route %s has %d messages in flight", route, depth)})
		}
	}

	buckets, err := d.st.HourlyBuckets(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("hourly buckets: %w", err)
	}
	for _, b := range buckets {
		if b.AvgLatencySec >= d.thr.SlowProcessingSec {
			out = append(out, Anomaly{Kind: "slow_processing", Severity: SeverityInfo,
				Message: fmt.Sprintf("average processing latency %.1fs at or above threshold %.1fs", b.AvgLatencySec, d.thr.SlowProcessingSec)})
		}
	}

	counts := map[string]map[Severity]int{}
	for _, a := range out {
		if counts[a.Kind] == nil {
			counts[a.Kind] = map[Severity]int{}
		}
		counts[a.Kind][a.Severity]++
	}
	for kind, bySev := range counts {
		for sev, n := range bySev {
			obs.AnomaliesActive.WithLabelValues(kind, string(sev)).Set(float64(n))
		}
	}

	return out, nil
}

// WorkerUnstable reports whether a destination's consecutive failure count
// (tracked by the egress pool's failure-streak hook) has reached
// WorkerUnstableCount, signaling a worker-fleet anomaly independent of
// the store-derived checks above. WorkerUnstableWindow is not consulted.
func WorkerUnstable(streak int, thr Thresholds) *Anomaly {
	if streak < thr.WorkerUnstableCount {
		return nil
	}
	return &Anomaly{
		Kind: "worker_unstable", Severity: SeverityCritical,
		Message: fmt.Sprintf("%d consecutive delivery failures", streak),
	}
}
