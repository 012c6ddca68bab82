// Package metrics exposes Prometheus counters for the send pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsletter"

// Registry owns a private prometheus.Registry. All methods are safe on a nil
// receiver so components can run without metrics in tests.
type Registry struct {
	registry *prometheus.Registry

	deliveries       *prometheus.CounterVec
	sendsFinalized   *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	promotions       *prometheus.CounterVec
}

// NewRegistry registers the pipeline metrics. Go runtime and process
// collectors are added when withRuntime is set.
func NewRegistry(withRuntime bool) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries moved to a terminal status.",
		}, []string{"status"}),
		sendsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_finalized_total",
			Help:      "Sends that reached a terminal status.",
		}, []string{"status"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of a single provider call.",
			Buckets:   prometheus.DefBuckets,
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_promotions_total",
			Help:      "Scheduled sends handled by the sweeper, by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.deliveries, r.sendsFinalized, r.dispatchDuration, r.promotions)

	if withRuntime {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}
	return r
}

func (r *Registry) DeliveryCompleted(status string) {
	if r == nil {
		return
	}
	r.deliveries.WithLabelValues(status).Inc()
}

func (r *Registry) SendFinalized(status string) {
	if r == nil {
		return
	}
	r.sendsFinalized.WithLabelValues(status).Inc()
}

func (r *Registry) ObserveDispatch(d time.Duration) {
	if r == nil {
		return
	}
	r.dispatchDuration.Observe(d.Seconds())
}

// Promotion records a scheduler outcome: promoted, skipped or failed.
func (r *Registry) Promotion(result string) {
	if r == nil {
		return
	}
	r.promotions.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
