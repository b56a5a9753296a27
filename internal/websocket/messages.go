package websocket

import (
	"time"

	"perpguard/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - новый алерт (overfill, расхождение, breaker, health)
	MessageTypeNotification MessageType = "notification"

	// MessageTypeBreakerUpdate - состояние breaker после ручного открытия или сброса
	MessageTypeBreakerUpdate MessageType = "breakerUpdate"

	// MessageTypeReconciliationReport - итог прохода сверки
	MessageTypeReconciliationReport MessageType = "reconciliationReport"

	// MessageTypeHealthUpdate - сводка health checks после внепланового прогона
	MessageTypeHealthUpdate MessageType = "healthUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение о новом алерте
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	// ID уведомления в БД (0, если запись не удалась)
	ID int `json:"id"`

	// Тип (OVERFILL, DISCREPANCY, GHOST_POSITION, ADJUSTMENT, BREAKER_OPEN, BREAKER_CLOSED, HEALTH_CRITICAL)
	Type string `json:"type"`

	// Уровень важности (info, warn, error, critical)
	Severity string `json:"severity"`

	// Компонент-источник
	Source string `json:"source,omitempty"`

	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// BreakerUpdateMessage - сообщение с состоянием breaker
type BreakerUpdateMessage struct {
	BaseMessage
	Data *models.BreakerState `json:"data"`
}

// ReconciliationReportMessage - сообщение с отчётом сверки
type ReconciliationReportMessage struct {
	BaseMessage
	Data *ReportSummary `json:"data"`
}

// ReportSummary - отчёт сверки без совпавших позиций.
// Совпавшие результаты не нужны оператору и раздувают сообщение.
type ReportSummary struct {
	ID             string                         `json:"id"`
	Timestamp      time.Time                      `json:"timestamp"`
	TotalPositions int                            `json:"total_positions"`
	Matched        int                            `json:"matched"`
	Discrepancies  int                            `json:"discrepancies"`
	Adjustments    int                            `json:"adjustments"`
	Applied        int                            `json:"applied"`
	ApplyErrors    []string                       `json:"apply_errors,omitempty"`
	Results        []*models.ReconciliationResult `json:"results"`
}

// HealthUpdateMessage - сообщение со сводкой здоровья
type HealthUpdateMessage struct {
	BaseMessage
	Data *models.HealthSummary `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			Source:    notif.Source,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}

// NewBreakerUpdateMessage создает сообщение о состоянии breaker
func NewBreakerUpdateMessage(state *models.BreakerState) *BreakerUpdateMessage {
	return &BreakerUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBreakerUpdate,
			Timestamp: time.Now(),
		},
		Data: state,
	}
}

// NewReconciliationReportMessage создает сообщение с отчётом сверки
func NewReconciliationReportMessage(report *models.ReconciliationReport) *ReconciliationReportMessage {
	summary := &ReportSummary{
		ID:             report.ID,
		Timestamp:      report.Timestamp,
		TotalPositions: report.TotalPositions,
		Matched:        report.Matched,
		Discrepancies:  report.Discrepancies,
		Adjustments:    report.Adjustments,
		Applied:        report.Applied,
		ApplyErrors:    report.ApplyErrors,
		Results:        make([]*models.ReconciliationResult, 0, report.Discrepancies),
	}
	for _, res := range report.Results {
		if res != nil && !res.Matched {
			summary.Results = append(summary.Results, res)
		}
	}

	return &ReconciliationReportMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeReconciliationReport,
			Timestamp: time.Now(),
		},
		Data: summary,
	}
}

// NewHealthUpdateMessage создает сообщение со сводкой здоровья
func NewHealthUpdateMessage(summary *models.HealthSummary) *HealthUpdateMessage {
	return &HealthUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeHealthUpdate,
			Timestamp: time.Now(),
		},
		Data: summary,
	}
}
