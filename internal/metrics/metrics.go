package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the conduit network metrics on a private prometheus registry.
type Registry struct {
	TicksTotal        *prometheus.CounterVec
	TickDuration      *prometheus.HistogramVec
	MovedTotal        *prometheus.CounterVec
	TransfersTotal    *prometheus.CounterVec
	SkippedEntries    *prometheus.CounterVec
	RecalcsTotal      *prometheus.CounterVec
	RecalcDuration    prometheus.Histogram
	EditErrorsTotal   *prometheus.CounterVec
	ActiveRegions     *prometheus.GaugeVec
	RegionsReconciled *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.TicksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_ticks_total",
			Help: "Simulation ticks executed per world",
		},
		[]string{"world"},
	)
	r.TickDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduitnet_tick_duration_seconds",
			Help:    "Duration of one network tick",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"world"},
	)
	r.MovedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_moved_quantity_total",
			Help: "Quantity accepted by consumers",
		},
		[]string{"world", "kind"},
	)
	r.TransfersTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_transfers_total",
			Help: "Source to consumer transfers with a non-zero accepted quantity",
		},
		[]string{"world", "kind"},
	)
	r.SkippedEntries = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_skipped_path_entries_total",
			Help: "Path entries skipped during a tick because their target could not be resolved",
		},
		[]string{"world"},
	)
	r.RecalcsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_path_recalculations_total",
			Help: "Region path index recalculations",
		},
		[]string{"world", "cause"}, // commit, load, unload
	)
	r.RecalcDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conduitnet_path_recalculation_duration_seconds",
			Help:    "Duration of one region path index recalculation",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)
	r.EditErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_edit_errors_total",
			Help: "Rejected edits by error code",
		},
		[]string{"op", "code"},
	)
	r.ActiveRegions = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduitnet_active_regions",
			Help: "Currently loaded regions per world",
		},
		[]string{"world"},
	)
	r.RegionsReconciled = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduitnet_reconciled_edges_total",
			Help: "Cross-region edges dropped at load time because their mirror was missing",
		},
		[]string{"world"},
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// The record helpers are nil-safe so engine code can run without metrics.

func (r *Registry) RecordTick(world string, d time.Duration, skipped int) {
	if r == nil {
		return
	}
	r.TicksTotal.WithLabelValues(world).Inc()
	r.TickDuration.WithLabelValues(world).Observe(d.Seconds())
	if skipped > 0 {
		r.SkippedEntries.WithLabelValues(world).Add(float64(skipped))
	}
}

func (r *Registry) RecordMoved(world, kind string, qty int64, transfers int) {
	if r == nil || qty <= 0 {
		return
	}
	r.MovedTotal.WithLabelValues(world, kind).Add(float64(qty))
	r.TransfersTotal.WithLabelValues(world, kind).Add(float64(transfers))
}

func (r *Registry) RecordRecalc(world, cause string, d time.Duration) {
	if r == nil {
		return
	}
	r.RecalcsTotal.WithLabelValues(world, cause).Inc()
	r.RecalcDuration.Observe(d.Seconds())
}

func (r *Registry) RecordEditError(op, code string) {
	if r == nil {
		return
	}
	r.EditErrorsTotal.WithLabelValues(op, code).Inc()
}

func (r *Registry) SetActiveRegions(world string, n int) {
	if r == nil {
		return
	}
	r.ActiveRegions.WithLabelValues(world).Set(float64(n))
}

func (r *Registry) RecordReconciled(world string, dropped int) {
	if r == nil || dropped <= 0 {
		return
	}
	r.RegionsReconciled.WithLabelValues(world).Add(float64(dropped))
}
