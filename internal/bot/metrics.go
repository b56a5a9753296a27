package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики ядра согласованности
// ============================================================
//
// - overfill: проверки fill, дубликаты, превышения объёма
// - reconciliation: проходы сверки, расхождения, корректировки
// - circuit breaker: вызовы, отказы, состояния, health checks
// - буферы каналов уведомлений

// ============ Overfill ============

// FillChecks - результаты проверок fill
var FillChecks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "overfill",
		Name:      "fill_checks_total",
		Help:      "Number of fill checks by decision",
	},
	[]string{"decision"}, // allowed, adjusted, rejected, unknown_order
)

// FillsRecorded - применённые и отброшенные (дубликаты) fill
var FillsRecorded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "overfill",
		Name:      "fills_recorded_total",
		Help:      "Number of recorded fills (applied or duplicate)",
	},
	[]string{"result"}, // applied, duplicate
)

// OverfillQuantity - объём превышения по способу обработки
var OverfillQuantity = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "perpguard",
		Subsystem: "overfill",
		Name:      "overfill_qty",
		Help:      "Overfill quantity beyond order remaining",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 100},
	},
	[]string{"handled"},
)

// TrackedOrders - количество отслеживаемых ордеров
var TrackedOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "overfill",
		Name:      "tracked_orders",
		Help:      "Current number of tracked orders",
	},
)

// ============ Reconciliation ============

// ReconciliationRuns - количество проходов сверки
var ReconciliationRuns = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Number of reconciliation passes",
	},
)

// DiscrepanciesFound - найденные расхождения по типам
var DiscrepanciesFound = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "reconciliation",
		Name:      "discrepancies_total",
		Help:      "Number of position discrepancies by type",
	},
	[]string{"type"},
)

// AdjustmentsApplied - корректировки по действию и результату
var AdjustmentsApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "reconciliation",
		Name:      "adjustments_total",
		Help:      "Number of adjustments by action and result",
	},
	[]string{"action", "result"}, // result: generated, applied, failed
)

// ReconciliationDuration - длительность прохода сверки
var ReconciliationDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "perpguard",
		Subsystem: "reconciliation",
		Name:      "duration_ms",
		Help:      "Reconciliation pass duration in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
	},
)

// ============ Circuit breaker ============

// BreakerCalls - вызовы через breaker по результату
var BreakerCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "breaker",
		Name:      "calls_total",
		Help:      "Number of calls through circuit breakers by result",
	},
	[]string{"breaker", "result"}, // success, failure, rejected
)

// BreakerCallLatency - время выполнения защищённого вызова
var BreakerCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "perpguard",
		Subsystem: "breaker",
		Name:      "call_latency_ms",
		Help:      "Latency of protected calls in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"breaker"},
)

// BreakerStateGauge - состояние breaker (0=closed, 1=half-open, 2=open)
var BreakerStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"breaker"},
)

// BreakerTransitions - переходы состояний
var BreakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Number of circuit breaker state transitions",
	},
	[]string{"breaker", "to"},
)

// HealthCheckStatus - последний статус компонента (0=healthy .. 3=critical)
var HealthCheckStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "health",
		Name:      "status",
		Help:      "Last health check status by component (0=healthy, 3=critical)",
	},
	[]string{"component"},
)

// ============ Буферы ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpguard",
		Subsystem: "core",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"},
)

// BufferBacklog - заполненность буфера на момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpguard",
		Subsystem: "core",
		Name:      "buffer_backlog_ratio",
		Help:      "Channel fill ratio observed on overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordFillCheck записывает решение проверки fill
func RecordFillCheck(decision string) {
	FillChecks.WithLabelValues(decision).Inc()
}

// RecordFillRecorded записывает результат recordFill
func RecordFillRecorded(applied bool) {
	if applied {
		FillsRecorded.WithLabelValues("applied").Inc()
	} else {
		FillsRecorded.WithLabelValues("duplicate").Inc()
	}
}

// RecordOverfill записывает обнаруженный overfill
func RecordOverfill(handled string, qty float64) {
	OverfillQuantity.WithLabelValues(handled).Observe(qty)
}

// UpdateTrackedOrders обновляет gauge отслеживаемых ордеров
func UpdateTrackedOrders(count int) {
	TrackedOrders.Set(float64(count))
}

// RecordReconciliation записывает итог прохода сверки
func RecordReconciliation(durationMs float64) {
	ReconciliationRuns.Inc()
	ReconciliationDuration.Observe(durationMs)
}

// RecordDiscrepancy записывает расхождение
func RecordDiscrepancy(discrepancyType string) {
	DiscrepanciesFound.WithLabelValues(discrepancyType).Inc()
}

// RecordAdjustment записывает корректировку
func RecordAdjustment(action, result string) {
	AdjustmentsApplied.WithLabelValues(action, result).Inc()
}

// RecordBreakerCall записывает вызов через breaker
func RecordBreakerCall(breaker, result string, latencyMs float64) {
	BreakerCalls.WithLabelValues(breaker, result).Inc()
	if result != "rejected" {
		BreakerCallLatency.WithLabelValues(breaker).Observe(latencyMs)
	}
}

// RecordBreakerState обновляет gauge состояния и счётчик переходов
func RecordBreakerState(breaker, state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	BreakerStateGauge.WithLabelValues(breaker).Set(v)
	BreakerTransitions.WithLabelValues(breaker, state).Inc()
}

// RecordHealthStatus записывает статус компонента
func RecordHealthStatus(component string, severity int) {
	HealthCheckStatus.WithLabelValues(component).Set(float64(severity))
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}
