package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comptrack"

// Update outcomes.
const (
	OutcomeUpdated    = "updated"
	OutcomeNoop       = "noop"
	OutcomeNotFound   = "not_found"
	OutcomeValidation = "validation_error"
	OutcomeConflict   = "conflict"
	OutcomeStorage    = "storage_failure"
	OutcomeError      = "error"
)

// Recorder owns the service's Prometheus collectors. A nil *Recorder records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	componentsCreated  prometheus.Counter
	componentUpdates   *prometheus.CounterVec
	historyAppended    prometheus.Counter
	updateDuration     prometheus.Histogram
	componentsByStatus *prometheus.GaugeVec
	restores           prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	poolConnsAcquired prometheus.Gauge
	poolConnsIdle     prometheus.Gauge
	poolConnsMax      prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegisterer(registry, registry)
}

// NewWithRegisterer registers the collectors on reg. gatherer backs Handler and may be nil.
func NewWithRegisterer(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	r := &Recorder{
		gatherer: gatherer,
		componentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "components_created_total",
			Help:      "Total number of components created",
		}),
		componentUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_updates_total",
			Help:      "Component update attempts by outcome",
		}, []string{"outcome"}),
		historyAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_entries_appended_total",
			Help:      "Total number of history entries appended",
		}),
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Duration of component update units of work",
			Buckets:   prometheus.DefBuckets,
		}),
		componentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "components_by_status",
			Help:      "Number of components by status at the last summary",
		}, []string{"status"}),
		restores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_restores_total",
			Help:      "Total number of completed backup restores",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		poolConnsAcquired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_acquired",
			Help:      "Number of database connections currently in use",
		}),
		poolConnsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_idle",
			Help:      "Number of idle database connections",
		}),
		poolConnsMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_max",
			Help:      "Maximum number of database connections",
		}),
	}
	reg.MustRegister(
		r.componentsCreated,
		r.componentUpdates,
		r.historyAppended,
		r.updateDuration,
		r.componentsByStatus,
		r.restores,
		r.httpRequests,
		r.httpRequestDuration,
		r.poolConnsAcquired,
		r.poolConnsIdle,
		r.poolConnsMax,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ComponentCreated records a successful create, which always appends version 1.
func (r *Recorder) ComponentCreated() {
	if r == nil {
		return
	}
	r.componentsCreated.Inc()
	r.historyAppended.Inc()
}

// UpdateFinished records one update attempt.
func (r *Recorder) UpdateFinished(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.componentUpdates.WithLabelValues(outcome).Inc()
	r.updateDuration.Observe(elapsed.Seconds())
	if outcome == OutcomeUpdated {
		r.historyAppended.Inc()
	}
}

// SetStatusCounts publishes the per-status component counts.
func (r *Recorder) SetStatusCounts(counts map[string]int) {
	if r == nil {
		return
	}
	for status, count := range counts {
		r.componentsByStatus.WithLabelValues(status).Set(float64(count))
	}
}

// RestoreCompleted records a full-state restore.
func (r *Recorder) RestoreCompleted() {
	if r == nil {
		return
	}
	r.restores.Inc()
}

// HTTPRequest records a served request.
func (r *Recorder) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// PoolStats publishes connection pool usage.
func (r *Recorder) PoolStats(acquired, idle, max int32) {
	if r == nil {
		return
	}
	r.poolConnsAcquired.Set(float64(acquired))
	r.poolConnsIdle.Set(float64(idle))
	r.poolConnsMax.Set(float64(max))
}
