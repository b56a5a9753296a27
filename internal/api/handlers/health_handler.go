package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

// healthRunTimeout - ограничение ручного прогона всех проверок
const healthRunTimeout = 15 * time.Second

// HealthHandler отдаёт сводку здоровья компонентов
//
// Endpoints:
// - GET /health - liveness/readiness для балансировщика (200 или 503)
// - GET /api/v1/health - сводка: общий статус, открытые breakers, компоненты
// - GET /api/v1/health/history?limit=N - последние результаты проверок
// - POST /api/v1/health/run - выполнить все проверки сейчас (оператор)
type HealthHandler struct {
	monitor     HealthMonitor
	broadcaster StatusBroadcaster
	logger      *zap.Logger
}

// NewHealthHandler создает новый HealthHandler
func NewHealthHandler(monitor HealthMonitor, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		monitor: monitor,
		logger:  logger.With(utils.Component("api")),
	}
}

// SetBroadcaster подключает рассылку сводки после ручного прогона
func (h *HealthHandler) SetBroadcaster(b StatusBroadcaster) {
	h.broadcaster = b
}

// HealthHistoryResponse - история результатов проверок
type HealthHistoryResponse struct {
	Results []*models.HealthCheckResult `json:"results"`
	Total   int                         `json:"total"`
}

// Liveness - короткий ответ для балансировщика
//
// GET /health
//
// HTTP коды:
// - 200 OK: общий статус не CRITICAL
// - 503 Service Unavailable: хотя бы один компонент в CRITICAL
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	summary := h.monitor.GetHealthSummary()

	code := http.StatusOK
	if summary.Overall == models.HealthCritical {
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, map[string]interface{}{
		"status":        summary.Overall,
		"open_breakers": summary.OpenBreakers,
	})
}

// GetHealth возвращает сводку здоровья
//
// GET /api/v1/health
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.monitor.GetHealthSummary())
}

// GetHealthHistory возвращает последние результаты проверок
//
// GET /api/v1/health/history
//
// Query параметры:
// - limit (int): количество записей (по умолчанию 50, максимум 500)
func (h *HealthHandler) GetHealthHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultListLimit, maxListLimit)

	results := h.monitor.GetHealthHistory(limit)
	if results == nil {
		results = []*models.HealthCheckResult{}
	}
	respondWithJSON(w, http.StatusOK, HealthHistoryResponse{Results: results, Total: len(results)})
}

// RunHealthChecks выполняет все зарегистрированные проверки и возвращает свежую сводку
//
// POST /api/v1/health/run
func (h *HealthHandler) RunHealthChecks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthRunTimeout)
	defer cancel()

	h.monitor.RunAllHealthChecks(ctx)
	summary := h.monitor.GetHealthSummary()

	if h.broadcaster != nil {
		if err := h.broadcaster.BroadcastHealthUpdate(summary); err != nil {
			h.logger.Warn("failed to broadcast health update", zap.Error(err))
		}
	}

	respondWithJSON(w, http.StatusOK, summary)
}
