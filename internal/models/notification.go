package models

import "time"

// Notification представляет уведомление (алерт) о событии ядра
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // OVERFILL, DISCREPANCY, BREAKER_OPEN, ...
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Source    string                 `json:"source,omitempty" db:"source"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOverfill       = "OVERFILL"        // fill превысил объём ордера
	NotificationTypeDiscrepancy    = "DISCREPANCY"     // расхождение позиции с биржей
	NotificationTypeGhostPosition  = "GHOST_POSITION"  // позиция на бирже без локальной записи
	NotificationTypeAdjustment     = "ADJUSTMENT"      // корректирующая команда
	NotificationTypeBreakerOpen    = "BREAKER_OPEN"    // circuit breaker открыт
	NotificationTypeBreakerClosed  = "BREAKER_CLOSED"  // circuit breaker восстановлен
	NotificationTypeHealthCritical = "HEALTH_CRITICAL" // критический результат health check
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
