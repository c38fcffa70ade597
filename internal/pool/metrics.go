package pool

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
)

const metricsNamespace = "poolscope"

type metrics struct {
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	reserves    *prometheus.GaugeVec
	totalShares prometheus.Gauge
	holders     prometheus.Gauge
}

func newMetrics(registry prometheus.Registerer) *metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger mutations by operation and outcome.",
		}, []string{"op", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger mutations including transfers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "reserve_tokens",
			Help:      "Pool reserve per asset in whole tokens.",
		}, []string{"asset"}),
		totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "total_shares",
			Help:      "Outstanding pool shares in whole units.",
		}),
		holders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "holders",
			Help:      "Known share holder records.",
		}),
	}
	registry.MustRegister(m.operations, m.durations, m.reserves, m.totalShares, m.holders)
	return m
}

func (m *metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTransferFailed):
		result = "transfer_failed"
	case errors.Is(err, ErrPersistFailed):
		result = "persist_failed"
	default:
		result = "rejected"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.durations.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metrics) setState(s *state) {
	m.reserves.WithLabelValues(string(model.AssetA)).Set(fixedpoint.ToFloat(s.reserveA))
	m.reserves.WithLabelValues(string(model.AssetB)).Set(fixedpoint.ToFloat(s.reserveB))
	m.totalShares.Set(fixedpoint.ToFloat(s.totalShares))
	m.holders.Set(float64(len(s.holders)))
}
