package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the relay pipeline.
type Metrics struct {
	webhooksReceived prometheus.Counter
	webhooksIgnored  prometheus.Counter
	jobsEnqueued     prometheus.Counter
	jobsDeduplicated prometheus.Counter
	eventsDispatched prometheus.Counter
	dispatchRejected prometheus.Counter
	jobsDeadLettered prometheus.Counter
	errors           prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			webhooksReceived: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_webhooks_received_total",
				Help: "Total number of webhook deliveries accepted for processing",
			}),
			webhooksIgnored: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_webhooks_ignored_total",
				Help: "Total number of webhook deliveries acknowledged as ignored",
			}),
			jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_jobs_enqueued_total",
				Help: "Total number of jobs enqueued",
			}),
			jobsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_jobs_deduplicated_total",
				Help: "Total number of duplicate deliveries suppressed by the queue",
			}),
			eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_events_dispatched_total",
				Help: "Total number of canonical events delivered to the relayer",
			}),
			dispatchRejected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_dispatch_rejected_total",
				Help: "Total number of events the relayer rejected with a 4xx",
			}),
			jobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_jobs_deadlettered_total",
				Help: "Total number of jobs that exhausted retries",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.webhooksReceived,
			metrics.webhooksIgnored,
			metrics.jobsEnqueued,
			metrics.jobsDeduplicated,
			metrics.eventsDispatched,
			metrics.dispatchRejected,
			metrics.jobsDeadLettered,
			metrics.errors,
		)
	})
	return metrics
}

// WebhooksReceived increments the accepted-deliveries counter.
func (m *Metrics) WebhooksReceived() {
	if m != nil {
		m.webhooksReceived.Inc()
	}
}

// WebhooksIgnored increments the ignored-deliveries counter.
func (m *Metrics) WebhooksIgnored() {
	if m != nil {
		m.webhooksIgnored.Inc()
	}
}

// JobsEnqueued increments the enqueued counter.
func (m *Metrics) JobsEnqueued() {
	if m != nil {
		m.jobsEnqueued.Inc()
	}
}

// JobsDeduplicated increments the suppressed-duplicate counter.
func (m *Metrics) JobsDeduplicated() {
	if m != nil {
		m.jobsDeduplicated.Inc()
	}
}

// EventsDispatched increments the delivered-events counter.
func (m *Metrics) EventsDispatched() {
	if m != nil {
		m.eventsDispatched.Inc()
	}
}

// DispatchRejected increments the relayer-rejection counter.
func (m *Metrics) DispatchRejected() {
	if m != nil {
		m.dispatchRejected.Inc()
	}
}

// JobsDeadLettered increments the exhausted-jobs counter.
func (m *Metrics) JobsDeadLettered() {
	if m != nil {
		m.jobsDeadLettered.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
