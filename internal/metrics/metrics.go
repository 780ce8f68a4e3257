package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for completed exchanges.
const (
	OutcomeSuccess = "success" // 2xx
	OutcomeError   = "error"   // any other status
	OutcomeFailure = "failure" // no response at all
)

// Recorder instruments the request lifecycle.
type Recorder struct {
	registry    *prometheus.Registry
	inFlight    prometheus.Gauge
	sends       *prometheus.CounterVec
	duration    prometheus.Histogram
	stale       prometheus.Counter
	storeErrors *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_requests_in_flight",
			Help: "Number of dispatched requests that have not completed",
		}),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_requests_total",
				Help: "Total number of completed requests by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_request_duration_seconds",
			Help:    "Wall-clock duration of successful exchanges",
			Buckets: prometheus.DefBuckets,
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_stale_results_discarded_total",
			Help: "Completions ignored because a newer request was dispatched",
		}),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_persistence_errors_total",
				Help: "Swallowed persistence failures by operation",
			},
			[]string{"op"},
		),
	}
	r.registry.MustRegister(r.inFlight, r.sends, r.duration, r.stale, r.storeErrors)
	return r
}

func (r *Recorder) SendStarted() {
	r.inFlight.Inc()
}

func (r *Recorder) SendCompleted(outcome string, elapsed time.Duration) {
	r.inFlight.Dec()
	r.sends.WithLabelValues(outcome).Inc()
	if outcome != OutcomeFailure {
		r.duration.Observe(elapsed.Seconds())
	}
}

func (r *Recorder) StaleDiscarded() {
	r.inFlight.Dec()
	r.stale.Inc()
}

func (r *Recorder) PersistenceFailed(op string) {
	r.storeErrors.WithLabelValues(op).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
