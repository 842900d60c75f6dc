package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: переходы статусов по агентам
	StatusTransitions *prometheus.CounterVec

	// Errors: отклоненные переходы (валидация, конфликт)
	RejectedTransitions *prometheus.CounterVec

	// Latency HITL: сколько заявка ждала решения
	ApprovalLatency *prometheus.HistogramVec

	// Решения по заявкам (approved/rejected/expired/escalated)
	ApprovalDecisions *prometheus.CounterVec

	// Realtime: доставки и потери по наблюдателям
	BroadcastDeliveries prometheus.Counter
	BroadcastDrops      prometheus.Counter
	ObserverConnections prometheus.Gauge

	// Сколько времени занимают фоновые sweep-ы
	SweepDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker исполнителя (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		StatusTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "acp_status_transitions_total",
			Help: "Accepted agent status transitions.",
		}, []string{"from", "to", "source"}),

		RejectedTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "acp_status_transitions_rejected_total",
			Help: "Rejected agent status transitions by reason class.",
		}, []string{"reason"}), // reason: validation, conflict

		ApprovalLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acp_approval_latency_seconds",
			Help:    "Time between approval creation and terminal decision.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400, 28800, 86400},
		}, []string{"outcome"}),

		ApprovalDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "acp_approval_decisions_total",
			Help: "Terminal approval outcomes.",
		}, []string{"outcome"}),

		BroadcastDeliveries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "acp_broadcast_deliveries_total",
			Help: "Events delivered to observer connections.",
		}),

		BroadcastDrops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "acp_broadcast_drops_total",
			Help: "Events dropped due to slow or dead observer connections.",
		}),

		ObserverConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "acp_observer_connections",
			Help: "Currently registered observer connections.",
		}),

		SweepDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acp_sweep_duration_seconds",
			Help:    "Duration of background sweep runs.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"sweep"}), // expiration, escalation, heartbeat_prune, idle_connections

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "acp_circuit_breaker_state",
			Help: "Current state of the executor circuit breaker (0=closed, 1=open).",
		}, []string{"executor"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "acp_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
