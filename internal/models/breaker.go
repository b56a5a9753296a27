package models

import "time"

// BreakerState - снимок состояния circuit breaker
type BreakerState struct {
	Name             string        `json:"name"`
	State            string        `json:"state"` // CLOSED, OPEN, HALF_OPEN
	IsOpen           bool          `json:"is_open"`
	HalfOpen         bool          `json:"half_open"`
	OpenedAt         *time.Time    `json:"opened_at,omitempty"`
	ErrorCount       int           `json:"error_count"`
	SuccessCount     int           `json:"success_count"`
	Threshold        int           `json:"threshold"`
	Timeout          time.Duration `json:"timeout"`
	RecoveryAttempts int           `json:"recovery_attempts"`
	LastError        string        `json:"last_error,omitempty"`
	LastAlertAt      *time.Time    `json:"last_alert_at,omitempty"`
}

// Состояния breaker для отображения
const (
	BreakerClosed   = "CLOSED"
	BreakerOpen     = "OPEN"
	BreakerHalfOpen = "HALF_OPEN"
)

// BreakerMetrics - накопительные счётчики breaker
type BreakerMetrics struct {
	TotalCalls      int64      `json:"total_calls"`
	SuccessfulCalls int64      `json:"successful_calls"`
	FailedCalls     int64      `json:"failed_calls"`
	RejectedCalls   int64      `json:"rejected_calls"`
	AvgResponseTime float64    `json:"avg_response_time_ms"` // EMA, миллисекунды
	LastOpenedAt    *time.Time `json:"last_opened_at,omitempty"`
}

// HealthStatus - уровень здоровья компонента
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthCritical  HealthStatus = "CRITICAL"
)

// Severity возвращает порядок статуса (больше - хуже)
func (s HealthStatus) Severity() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	case HealthCritical:
		return 3
	default:
		return 2
	}
}

// HealthCheckResult - результат одной проверки здоровья
type HealthCheckResult struct {
	Component    string                 `json:"component"`
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Timestamp    time.Time              `json:"timestamp"`
}

// HealthSummary - сводка для API
type HealthSummary struct {
	Overall      HealthStatus                  `json:"overall"`
	OpenBreakers []string                      `json:"open_breakers"`
	Components   map[string]*HealthCheckResult `json:"components"`
	CheckedAt    *time.Time                    `json:"checked_at,omitempty"`
}
