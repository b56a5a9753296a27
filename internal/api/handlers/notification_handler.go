package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/service"
	"perpguard/pkg/utils"
)

// NotificationHandler отвечает за журнал алертов
//
// Endpoints:
// - GET /api/v1/notifications - последние алерты
// - GET /api/v1/notifications?types=overfill,breaker_open - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
	logger              *zap.Logger
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService service.NotificationServiceInterface, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{
		notificationService: notificationService,
		logger:              logger.With(utils.Component("api")),
	}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	ID        int                    `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Source    string                 `json:"source,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): фильтр по типам через запятую
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// Типы уведомлений:
// - OVERFILL: fill превысил объём ордера
// - DISCREPANCY: расхождение позиции с биржей
// - GHOST_POSITION: позиция на бирже без локальной записи
// - ADJUSTMENT: применена корректировка позиции
// - BREAKER_OPEN / BREAKER_CLOSED: смена состояния circuit breaker
// - HEALTH_CRITICAL: критический результат health check
//
// HTTP коды:
// - 200 OK: успешно, возвращает массив уведомлений
// - 500 Internal Server Error: ошибка сервера
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	limit := parseLimit(r, 100, maxListLimit)

	notifications, err := h.notificationService.GetNotifications(r.Context(), types, limit)
	if err != nil {
		h.logger.Error("failed to load notifications", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get notifications")
		return
	}

	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, NotificationDTO{
			ID:        n.ID,
			Timestamp: n.Timestamp.Format(time.RFC3339),
			Type:      n.Type,
			Severity:  n.Severity,
			Source:    n.Source,
			Message:   n.Message,
			Meta:      n.Meta,
		})
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: dtos,
		Total:         len(dtos),
	})
}
