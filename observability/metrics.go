package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	exchangeMetricsOnce sync.Once
	exchangeRegistry    *ExchangeMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ExchangeMetrics bundles collectors tracking settlement throughput, fee
// accrual, and pool health.
type ExchangeMetrics struct {
	settlements *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	volume      *prometheus.CounterVec
	pool        *prometheus.GaugeVec
	paused      prometheus.Gauge
}

// Exchange returns the lazily-initialised metrics registry for the exchange
// engine and its HTTP surface.
func Exchange() *ExchangeMetrics {
	exchangeMetricsOnce.Do(func() {
		exchangeRegistry = &ExchangeMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pointswap",
				Subsystem: "exchange",
				Name:      "settlements_total",
				Help:      "Count of settlement attempts segmented by asset, mode, and outcome.",
			}, []string{"asset", "mode", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pointswap",
				Subsystem: "exchange",
				Name:      "settlement_duration_seconds",
				Help:      "Latency distribution for settlement execution.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pointswap",
				Subsystem: "exchange",
				Name:      "errors_total",
				Help:      "Count of settlement failures segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pointswap",
				Subsystem: "exchange",
				Name:      "points_consumed_total",
				Help:      "Total points consumed by committed settlements per asset.",
			}, []string{"asset"}),
			pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "pointswap",
				Subsystem: "exchange",
				Name:      "pool_balance",
				Help:      "Settlement pool balance per asset in native units.",
			}, []string{"asset"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pointswap",
				Subsystem: "exchange",
				Name:      "paused",
				Help:      "Indicates whether the settlement pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			exchangeRegistry.settlements,
			exchangeRegistry.latency,
			exchangeRegistry.errors,
			exchangeRegistry.volume,
			exchangeRegistry.pool,
			exchangeRegistry.paused,
		)
	})
	return exchangeRegistry
}

// ObserveSettlement records one settlement attempt. The mode should be
// "direct" or "delegated".
func (m *ExchangeMetrics) ObserveSettlement(asset, mode string, duration time.Duration, points *big.Int, err error) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	if mode = strings.TrimSpace(mode); mode == "" {
		mode = "direct"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(label, reason).Inc()
	} else {
		m.volume.WithLabelValues(label).Add(bigToFloat(points))
	}
	m.settlements.WithLabelValues(label, mode, outcome).Inc()
	m.latency.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordPool updates the pool balance gauge for an asset.
func (m *ExchangeMetrics) RecordPool(asset string, balance *big.Int) {
	if m == nil {
		return
	}
	m.pool.WithLabelValues(labelAsset(asset)).Set(bigToFloat(balance))
}

// SetPaused toggles the paused gauge.
func (m *ExchangeMetrics) SetPaused(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// OracleMetrics bundles collectors for the price polling loop.
type OracleMetrics struct {
	fetches   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
	rounds    *prometheus.CounterVec
}

// Oracle returns the metrics registry for the oracle manager.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pointswap",
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Count of upstream feed fetches segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "pointswap",
				Subsystem: "oracle",
				Name:      "round_age_seconds",
				Help:      "Age in seconds of the most recent published round per symbol.",
			}, []string{"symbol"}),
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pointswap",
				Subsystem: "oracle",
				Name:      "rounds_published_total",
				Help:      "Count of aggregated rounds published per symbol.",
			}, []string{"symbol"}),
		}
		prometheus.MustRegister(oracleRegistry.fetches, oracleRegistry.freshness, oracleRegistry.rounds)
	})
	return oracleRegistry
}

// RecordFetch counts one upstream fetch attempt.
func (m *OracleMetrics) RecordFetch(source string, err error) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(source, outcome).Inc()
}

// RecordRound counts a published round and updates its freshness gauge.
func (m *OracleMetrics) RecordRound(symbol string, age time.Duration) {
	if m == nil {
		return
	}
	label := labelAsset(symbol)
	m.rounds.WithLabelValues(label).Inc()
	m.freshness.WithLabelValues(label).Set(age.Seconds())
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
