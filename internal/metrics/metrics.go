// Package metrics exposes scoring run and item counters to Prometheus.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

const namespace = "scoring"

// Collector owns its registry so several collectors can live in one process
type Collector struct {
	registry *prometheus.Registry

	items         *prometheus.CounterVec
	itemLatency   prometheus.Histogram
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastClaimed   prometheus.Gauge
	lastRunTime   prometheus.Gauge
	reclaimed     *prometheus.CounterVec
	healthChecks  *prometheus.CounterVec
	healthLatency prometheus.Histogram
}

// NewCollector creates a collector with process and Go runtime metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Work items handled, by outcome",
		}, []string{"outcome"}),
		itemLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time to score and commit one work item",
			Buckets:   prometheus.DefBuckets,
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Scoring runs, by final status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a scoring run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		lastClaimed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_claimed_items",
			Help:      "Items claimed by the most recent run",
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent run finished",
		}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_items_total",
			Help:      "Stale claims resolved, by result",
		}, []string{"result"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Database health checks, by result",
		}, []string{"result"}),
		healthLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_check_duration_seconds",
			Help:      "Database health check round trip",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.items,
		c.itemLatency,
		c.runs,
		c.runDuration,
		c.lastClaimed,
		c.lastRunTime,
		c.reclaimed,
		c.healthChecks,
		c.healthLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// RegisterDB exports connection pool statistics of db
func (c *Collector) RegisterDB(db *sql.DB, name string) error {
	return c.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveItem records one item outcome
func (c *Collector) ObserveItem(outcome string, elapsed time.Duration) {
	c.items.WithLabelValues(outcome).Inc()
	c.itemLatency.Observe(elapsed.Seconds())
}

// ObserveRun records a finished run
func (c *Collector) ObserveRun(status string, summary domain.Summary) {
	c.runs.WithLabelValues(status).Inc()
	c.runDuration.Observe(summary.Duration.Seconds())
	c.lastClaimed.Set(float64(summary.Claimed))
	c.lastRunTime.SetToCurrentTime()
}

// AddReclaimed counts the outcome of the stale claim policy
func (c *Collector) AddReclaimed(requeued, expired int64) {
	c.reclaimed.WithLabelValues("requeued").Add(float64(requeued))
	c.reclaimed.WithLabelValues("expired").Add(float64(expired))
}

// ObserveHealthCheck records one health probe
func (c *Collector) ObserveHealthCheck(healthy bool, elapsed time.Duration) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	c.healthChecks.WithLabelValues(result).Inc()
	c.healthLatency.Observe(elapsed.Seconds())
}
