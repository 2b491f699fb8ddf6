package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// IngestTotal counts ingestion attempts by outcome.
	IngestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripeness",
		Subsystem: "pipeline",
		Name:      "ingest_total",
		Help:      "Total number of ingested payloads, labeled by result (ok, invalid, upstream).",
	}, []string{"result"})

	// ClassifiedTotal counts derived states by policy.
	ClassifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripeness",
		Subsystem: "pipeline",
		Name:      "classified_total",
		Help:      "Total number of classified readings, labeled by policy and derived state.",
	}, []string{"policy", "state"})

	// StoreDurationSeconds is time spent persisting one reading.
	StoreDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ripeness",
		Subsystem: "store",
		Name:      "insert_duration_seconds",
		Help:      "Time to persist one reading.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"result"})

	// BroadcastErrorTotal counts failed broadcaster publishes.
	BroadcastErrorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripeness",
		Subsystem: "broadcast",
		Name:      "error_total",
		Help:      "Total number of failed broadcast publishes, labeled by sink.",
	}, []string{"sink"})

	// BroadcastDroppedTotal counts messages dropped on a full queue.
	BroadcastDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ripeness",
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Total number of broadcast messages dropped because the queue was full.",
	})

	// WebsocketClients is the number of connected live subscribers.
	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ripeness",
		Subsystem: "broadcast",
		Name:      "websocket_clients",
		Help:      "Current number of connected websocket subscribers.",
	})

	// EnrichErrorTotal counts failed model lookups.
	EnrichErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ripeness",
		Subsystem: "enrich",
		Name:      "error_total",
		Help:      "Total number of failed model enrichment calls.",
	})
)

// Register registers the service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			IngestTotal,
			ClassifiedTotal,
			StoreDurationSeconds,
			BroadcastErrorTotal,
			BroadcastDroppedTotal,
			WebsocketClients,
			EnrichErrorTotal,
		)
	})
}
