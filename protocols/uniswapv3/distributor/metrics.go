package distributor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the distributor collectors. Methods on a nil *Metrics do nothing.
type Metrics struct {
	LoopRuns     prometheus.Counter
	PoolsVisited prometheus.Counter
	PoolsSettled prometheus.Counter
	Failures     *prometheus.CounterVec
	Cursor       prometheus.Gauge
	LoopDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		LoopRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_distributor_loop_runs_total",
			Help: "Factory loop invocations",
		}),
		PoolsVisited: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_distributor_pools_visited_total",
			Help: "Pools visited by the factory loop",
		}),
		PoolsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_distributor_pools_settled_total",
			Help: "Settlements that performed a self-swap",
		}),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amm_distributor_failures_total",
				Help: "Failed settlements by pool",
			},
			[]string{"pool"},
		),
		Cursor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amm_distributor_next_pool_index",
			Help: "Registry index the next factory loop starts from",
		}),
		LoopDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_distributor_loop_duration_seconds",
			Help:    "Duration of factory loop invocations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) loopTimer() func() {
	if m == nil {
		return func() {}
	}
	m.LoopRuns.Inc()
	t := prometheus.NewTimer(m.LoopDuration)
	return func() { t.ObserveDuration() }
}

func (m *Metrics) visited() {
	if m == nil {
		return
	}
	m.PoolsVisited.Inc()
}

func (m *Metrics) settled() {
	if m == nil {
		return
	}
	m.PoolsSettled.Inc()
}

func (m *Metrics) failed(pool string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(pool).Inc()
}

func (m *Metrics) cursor(v uint64) {
	if m == nil {
		return
	}
	m.Cursor.Set(float64(v))
}
