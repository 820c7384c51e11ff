// Package metrics exposes Prometheus instrumentation for map sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// View records viewport recomputations.
type View struct {
	recomputes    *prometheus.CounterVec
	queryFailures prometheus.Counter
	visible       prometheus.Histogram
	latency       *prometheus.HistogramVec
	sessions      prometheus.Gauge
}

// NewView creates and registers the view metrics on reg.
func NewView(reg prometheus.Registerer) *View {
	v := &View{
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parcels_view_recomputes_total",
			Help: "Viewport recomputations by triggering event",
		}, []string{"trigger", "layer"}),
		queryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parcels_view_query_failures_total",
			Help: "Rendered feature queries that failed and were treated as empty",
		}),
		visible: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parcels_view_visible_parcels",
			Help:    "Represented parcel count per recomputation",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parcels_view_recompute_seconds",
			Help:    "Latency of a viewport recomputation",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parcels_sessions_active",
			Help: "Open map sessions",
		}),
	}
	if reg != nil {
		reg.MustRegister(v.recomputes, v.queryFailures, v.visible, v.latency, v.sessions)
	}
	return v
}

// Recompute records one finished recomputation.
func (v *View) Recompute(trigger, layer string, d time.Duration, count int) {
	v.recomputes.WithLabelValues(trigger, layer).Inc()
	v.latency.WithLabelValues(trigger).Observe(d.Seconds())
	v.visible.Observe(float64(count))
}

// QueryFailed records a rendered feature query failure.
func (v *View) QueryFailed() {
	v.queryFailures.Inc()
}

// SessionOpened increments the open session gauge.
func (v *View) SessionOpened() {
	v.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (v *View) SessionClosed() {
	v.sessions.Dec()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
