package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял пайплайн (включая удаленный вызов)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов по действиям
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Сколько целей сейчас в сетевой изоляции
	IsolatedTargets prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "srg_request_duration_seconds",
			Help:    "Histogram of response pipeline latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"action", "outcome"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "srg_requests_total",
			Help: "Total number of processed response requests.",
		}, []string{"action"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "srg_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: validation, authorization, connectivity, timeout, execution, parse

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "srg_circuit_breaker_state",
			Help: "Current state of the remote invoker circuit breaker (0=closed, 1=open).",
		}),

		IsolatedTargets: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "srg_isolated_targets",
			Help: "Current number of network-isolated targets.",
		}),
	}
}
