package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

const namespace = "replayer"

var (
	// DispatchCounter counts finished entries by method, outcome kind and
	// status class (2xx..5xx, or the error kind / skip reason).
	DispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Replayed entries by method, outcome and status class.",
	}, []string{"method", "outcome", "status_class"})

	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Round trip of replayed requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// ScheduleLag is how late each dispatch fired relative to its scheduled moment.
	ScheduleLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "schedule_lag_seconds",
		Help:      "Delay between the scheduled moment and the actual dispatch.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	})

	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight_requests",
		Help:      "Requests currently waiting for a response.",
	})

	PendingEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_entries",
		Help:      "Entries of the current run without an outcome yet.",
	})

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished replay runs by terminal state.",
	}, []string{"state"})

	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Outcome records a sink failed to store.",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		DispatchCounter,
		DispatchDuration,
		ScheduleLag,
		InFlight,
		PendingEntries,
		RunsTotal,
		SinkErrors,
	)
}

// ObserveOutcome records a finished entry.
func ObserveOutcome(method string, o models.Outcome) {
	DispatchCounter.WithLabelValues(method, o.Kind.String(), o.StatusClass()).Inc()

	if o.Sent {
		ScheduleLag.Observe(o.Lag().Seconds())
	}
}
