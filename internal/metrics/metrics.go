// Package metrics holds the Prometheus collectors for the process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe to call on a nil receiver, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	syncProbes        *prometheus.CounterVec
	migrationOutcomes *prometheus.CounterVec
	mergeEvents       *prometheus.CounterVec
	remoteApplied     *prometheus.CounterVec
	exportedChanges   *prometheus.CounterVec
	shareRetries      prometheus.Counter
	requests          *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubby_sync_probes_total",
			Help: "Availability probes by resulting sync mode.",
		}, []string{"mode"}),
		migrationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubby_migration_runs_total",
			Help: "Legacy migration runs by outcome.",
		}, []string{"outcome"}),
		mergeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubby_merge_events_total",
			Help: "Debounced merge events by store scope.",
		}, []string{"scope"}),
		remoteApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubby_remote_records_total",
			Help: "Remote records received by scope and result.",
		}, []string{"scope", "result"}),
		exportedChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubby_exported_changes_total",
			Help: "Local history rows pushed to the cloud container by scope.",
		}, []string{"scope"}),
		shareRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cubby_share_retries_total",
			Help: "Retried share operations after transient cloud errors.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cubby_http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		m.syncProbes,
		m.migrationOutcomes,
		m.mergeEvents,
		m.remoteApplied,
		m.exportedChanges,
		m.shareRetries,
		m.requests,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SyncProbe(mode string) {
	if m != nil {
		m.syncProbes.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) MigrationOutcome(outcome string) {
	if m != nil {
		m.migrationOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) MergeEvent(private, shared bool) {
	if m == nil {
		return
	}
	if private {
		m.mergeEvents.WithLabelValues("private").Inc()
	}
	if shared {
		m.mergeEvents.WithLabelValues("shared").Inc()
	}
}

func (m *Metrics) RemoteRecords(scope string, applied, skipped int) {
	if m == nil {
		return
	}
	m.remoteApplied.WithLabelValues(scope, "applied").Add(float64(applied))
	m.remoteApplied.WithLabelValues(scope, "skipped").Add(float64(skipped))
}

func (m *Metrics) ExportedChanges(scope string, n int) {
	if m != nil {
		m.exportedChanges.WithLabelValues(scope).Add(float64(n))
	}
}

func (m *Metrics) ShareRetry() {
	if m != nil {
		m.shareRetries.Inc()
	}
}

func (m *Metrics) Request(route, method, status string) {
	if m != nil {
		m.requests.WithLabelValues(route, method, status).Inc()
	}
}
