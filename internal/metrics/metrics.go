// Package metrics exposes batch measurements in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "incentive"

// Recorder owns a private registry so tests can build as many as they need.
type Recorder struct {
	registry      *prometheus.Registry
	evaluated     *prometheus.CounterVec
	paid          prometheus.Counter
	batchDuration prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		evaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_evaluated_total",
			Help:      "Profiles taken through a payout cycle, by outcome.",
		}, []string{"outcome"}),
		paid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonus_paid_total",
			Help:      "Sum of incentive amounts credited to bonus wallets.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one incentive batch run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	r.registry.MustRegister(
		r.evaluated,
		r.paid,
		r.batchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveOutcome counts one profile cycle and the amount it credited.
func (r *Recorder) ObserveOutcome(outcome string, paid decimal.Decimal) {
	r.evaluated.WithLabelValues(outcome).Inc()
	if paid.IsPositive() {
		r.paid.Add(paid.InexactFloat64())
	}
}

func (r *Recorder) ObserveRun(d time.Duration) {
	r.batchDuration.Observe(d.Seconds())
}

// Handler serves the registry on /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
