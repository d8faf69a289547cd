package metricsvc

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-sync/core/offline"
)

const namespace = "masomo_sync"

// Metrics exports the sync runs and their progress to prometheus.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration prometheus.Histogram
	progress *prometheus.GaugeVec
	last     prometheus.Gauge
}

var _ offline.RunObserver = (*Metrics)(nil) // interface compliance check

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished queue drains by lock and final status.",
		}, []string{"lock", "status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Queue items handled by lock and outcome (synced, failed, skipped).",
		}, []string{"lock", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the queue drains.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_percent",
			Help:      "Progress of the current drain, by status.",
		}, []string{"status"}),
		last: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "End time of the last drain.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.items, m.duration, m.progress, m.last,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RunFinished(_ context.Context, run offline.Run) {
	res := run.Result
	m.runs.WithLabelValues(run.LockName, string(res.Status)).Inc()
	m.items.WithLabelValues(run.LockName, "synced").Add(float64(res.SyncedCount))
	m.items.WithLabelValues(run.LockName, "failed").Add(float64(res.FailedCount))
	m.items.WithLabelValues(run.LockName, "skipped").Add(float64(res.SkippedCount))
	m.duration.Observe(res.Duration().Seconds())
	if !res.FinishedAt.IsZero() {
		m.last.Set(float64(res.FinishedAt.UnixNano()) / 1e9)
	}
}

// Listener tracks the progress broadcast by a Coordinator.
// Only the current status carries the progress, the others are reset to 0.
func (m *Metrics) Listener() offline.Listener {
	statuses := []offline.Status{offline.StatusIdle, offline.StatusSyncing, offline.StatusSuccess, offline.StatusError}
	return func(status offline.Status, progress int) {
		for _, s := range statuses {
			v := 0.0
			if s == status {
				v = float64(progress)
			}
			m.progress.WithLabelValues(string(s)).Set(v)
		}
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
