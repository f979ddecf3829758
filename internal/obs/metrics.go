package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_enqueued_total",
		Help: "Total number of messages accepted by Buffer.Enqueue, by route.",
	}, []string{"source", "destination"})

	MessagesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_completed_total",
		Help: "Total number of messages that reached status=completed, by route.",
	}, []string{"source", "destination"})

	MessagesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_failed_total",
		Help: "Total number of messages dead-lettered (status=failed), by route.",
	}, []string{"source", "destination"})

	MessagesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_messages_expired_total",
		Help: "Total number of messages swept to status=expired.",
	})

	MessagesRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_retried_total",
		Help: "Total number of Buffer.Fail calls that returned a message to pending.",
	}, []string{"source", "destination"})

	EnqueueRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_enqueue_rejected_total",
		Help: "Total number of Buffer.Enqueue calls rejected due to overflow or a priority soft limit.",
	})

	ProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_processing_duration_seconds",
		Help:    "Histogram of processed_at - created_at for completed messages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "destination"})

	PendingDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_pending_depth",
		Help: "Current pending message count, by route.",
	}, []string{"source", "destination"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open, per destination.",
	}, []string{"destination"})

	AnomaliesActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_anomalies_active",
		Help: "Count of active anomalies of a given kind and severity.",
	}, []string{"kind", "severity"})
)

func init() {
	prometheus.MustRegister(
		MessagesEnqueued, MessagesCompleted, MessagesFailed, MessagesExpired,
		MessagesRetried, EnqueueRejected, ProcessingDuration, PendingDepth,
		CircuitBreakerState, AnomaliesActive,
	)
}

// StartHTTPServer exposes /metrics, /healthz, and /readyz on the configured
// port. readiness is invoked on every /readyz request and should return nil
// once the store and adapters are usable.
func StartHTTPServer(port int, readiness func() error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readiness != nil {
			if err := readiness(); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
