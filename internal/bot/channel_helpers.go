package bot

import (
	"time"

	"perpguard/internal/models"
)

// tryEnqueueNotification отправляет уведомление в канал с метриками переполнения.
// Возвращает true, если уведомление поставлено в очередь.
func tryEnqueueNotification(ch chan<- *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		RecordBufferOverflow("notification")
		RecordBufferBacklog("notification", cap(ch), len(ch))
		return false
	}
}

// newNotification собирает уведомление с текущим временем
func newNotification(now time.Time, notifType, severity, source, message string, meta map[string]interface{}) *models.Notification {
	return &models.Notification{
		Timestamp: now,
		Type:      notifType,
		Severity:  severity,
		Source:    source,
		Message:   message,
		Meta:      meta,
	}
}
