package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	StartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmspawner_starts_total",
			Help: "Total number of start operations by outcome",
		},
		[]string{"outcome"},
	)

	StopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmspawner_stops_total",
			Help: "Total number of stop operations by outcome",
		},
		[]string{"outcome"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmspawner_polls_total",
			Help: "Total number of poll operations by result",
		},
		[]string{"result"},
	)

	StartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmspawner_start_duration_seconds",
			Help:    "Time taken by start operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Discovery metrics
	ServerErrorsTreatedAbsent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmspawner_server_errors_treated_absent_total",
			Help: "Control-plane server errors reinterpreted as service-absent by policy",
		},
	)
)

// Outcome label values.
const (
	OutcomeCreated   = "created"
	OutcomeExisting  = "existing"
	OutcomeError     = "error"
	OutcomeRemoved   = "removed"
	OutcomeNoop      = "noop"
	ResultRunning    = "running"
	ResultNotRunning = "not_running"
	ResultError      = "error"
)

func init() {
	prometheus.MustRegister(StartsTotal)
	prometheus.MustRegister(StopsTotal)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(StartDuration)
	prometheus.MustRegister(ServerErrorsTreatedAbsent)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
