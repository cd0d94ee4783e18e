package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by all pools of a factory.
// Methods on a nil *Metrics do nothing.
type Metrics struct {
	Swaps       *prometheus.CounterVec
	Settlements *prometheus.CounterVec
	Flashes     *prometheus.CounterVec

	// Withheld is the unsettled base token fee balance per pool and token.
	Withheld *prometheus.GaugeVec

	Duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the pool collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		Swaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amm_pool_swaps_total",
				Help: "Successful swaps by pool",
			},
			[]string{"pool"},
		),

		Settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amm_pool_settlements_total",
				Help: "Base token settlements that performed a self-swap, by pool",
			},
			[]string{"pool"},
		),

		Flashes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amm_pool_flashes_total",
				Help: "Successful flash loans by pool",
			},
			[]string{"pool"},
		),

		Withheld: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amm_pool_base_tokens_withheld",
				Help: "Withheld base token fees awaiting settlement, in token units",
			},
			[]string{"pool", "token"},
		),

		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amm_pool_operation_duration_seconds",
				Help:    "Duration of pool operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) timer(op string) func() {
	if m == nil {
		return func() {}
	}
	t := prometheus.NewTimer(m.Duration.WithLabelValues(op))
	return func() { t.ObserveDuration() }
}

func (m *Metrics) swap(pool common.Address) {
	if m == nil {
		return
	}
	m.Swaps.WithLabelValues(pool.Hex()).Inc()
}

func (m *Metrics) settlement(pool common.Address) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(pool.Hex()).Inc()
}

func (m *Metrics) flash(pool common.Address) {
	if m == nil {
		return
	}
	m.Flashes.WithLabelValues(pool.Hex()).Inc()
}

func (m *Metrics) setWithheld(pool common.Address, tokens [2]common.Address, amounts [2]*big.Int) {
	if m == nil {
		return
	}
	for i := range tokens {
		f, _ := new(big.Float).SetInt(amounts[i]).Float64()
		m.Withheld.WithLabelValues(pool.Hex(), tokens[i].Hex()).Set(f)
	}
}
