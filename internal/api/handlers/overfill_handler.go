package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/internal/service"
	"perpguard/pkg/utils"
)

// OverfillHandler отдаёт состояние защиты от overfill
//
// Endpoints:
// - GET /api/v1/overfill/stats - статистика проверок
// - GET /api/v1/overfill/history?limit=N - последние overfill в памяти
// - GET /api/v1/overfill/audit?limit=N - журнал overfill из БД
// - GET /api/v1/overfill/orders/{id} - ордер, его fill, ожидаемая позиция и аудит
// - GET /api/v1/overfill/config - текущие параметры
// - PATCH /api/v1/overfill/config - частичное обновление параметров (оператор)
type OverfillHandler struct {
	protection OverfillInspector
	audit      service.OverfillAuditInterface
	logger     *zap.Logger
}

// NewOverfillHandler создает новый OverfillHandler. audit == nil - без журнала БД.
func NewOverfillHandler(protection OverfillInspector, audit service.OverfillAuditInterface, logger *zap.Logger) *OverfillHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverfillHandler{
		protection: protection,
		audit:      audit,
		logger:     logger.With(utils.Component("api")),
	}
}

// OverfillListResponse - список записей overfill
type OverfillListResponse struct {
	Records []*models.OverfillRecord `json:"records"`
	Total   int                      `json:"total"`
}

// OrderDetailResponse - всё, что защита знает об ордере
type OrderDetailResponse struct {
	Order     *models.OrderState       `json:"order"`
	Fills     []*models.FillEvent      `json:"fills"`
	Expected  bot.ExpectedPosition     `json:"expected_position"`
	Overfills []*models.OverfillRecord `json:"overfills"`
}

// UpdateOverfillConfigRequest - частичное обновление, nil поля не меняются
type UpdateOverfillConfigRequest struct {
	AllowOverfills   *bool    `json:"allow_overfills,omitempty"`
	TolerancePercent *float64 `json:"tolerance_percent,omitempty"`
	AutoAdjust       *bool    `json:"auto_adjust,omitempty"`
	AlertOnOverfill  *bool    `json:"alert_on_overfill,omitempty"`
}

// GetStats возвращает статистику защиты
//
// GET /api/v1/overfill/stats
func (h *OverfillHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.protection.GetStatistics())
}

// GetHistory возвращает последние overfill из памяти
//
// GET /api/v1/overfill/history
func (h *OverfillHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultListLimit, maxListLimit)

	records := h.protection.GetOverfillHistory(limit)
	if records == nil {
		records = []*models.OverfillRecord{}
	}
	respondWithJSON(w, http.StatusOK, OverfillListResponse{Records: records, Total: len(records)})
}

// GetAudit возвращает журнал overfill из БД (переживает перезапуск)
//
// GET /api/v1/overfill/audit
//
// HTTP коды:
// - 200 OK
// - 500 Internal Server Error: ошибка БД
// - 503 Service Unavailable: журнал не подключён
func (h *OverfillHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "overfill audit is not configured")
		return
	}
	limit := parseLimit(r, defaultListLimit, maxListLimit)

	records, err := h.audit.GetRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load overfill audit", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to load overfill audit")
		return
	}
	if records == nil {
		records = []*models.OverfillRecord{}
	}
	respondWithJSON(w, http.StatusOK, OverfillListResponse{Records: records, Total: len(records)})
}

// GetOrder возвращает ордер, его fill и ожидаемую позицию
//
// GET /api/v1/overfill/orders/{id}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: ордер не отслеживается
func (h *OverfillHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, ok := h.protection.GetOrder(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "order not tracked: "+id)
		return
	}

	resp := OrderDetailResponse{
		Order:     order,
		Fills:     h.protection.GetOrderFills(id),
		Overfills: []*models.OverfillRecord{},
	}
	if resp.Fills == nil {
		resp.Fills = []*models.FillEvent{}
	}
	resp.Expected, _ = h.protection.CalculateExpectedPosition(id)

	if h.audit != nil {
		records, err := h.audit.GetByOrderID(r.Context(), id)
		if err != nil {
			// журнал вторичен, ответ без него всё равно полезен
			h.logger.Warn("failed to load order overfill audit", utils.OrderID(id), zap.Error(err))
		} else if records != nil {
			resp.Overfills = records
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GetConfig возвращает текущие параметры защиты
//
// GET /api/v1/overfill/config
func (h *OverfillHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.protection.GetConfig())
}

// UpdateConfig частично обновляет параметры защиты
//
// PATCH /api/v1/overfill/config
//
// HTTP коды:
// - 200 OK: новая конфигурация
// - 400 Bad Request: некорректный JSON или значения вне диапазона
func (h *OverfillHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateOverfillConfigRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}

	cfg := h.protection.GetConfig()
	if req.TolerancePercent != nil {
		if err := utils.ValidatePercentage(*req.TolerancePercent); err != nil {
			respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid overfill config", "tolerance_percent: "+err.Error())
			return
		}
		cfg.TolerancePercent = *req.TolerancePercent
	}
	if req.AllowOverfills != nil {
		cfg.AllowOverfills = *req.AllowOverfills
	}
	if req.AutoAdjust != nil {
		cfg.AutoAdjust = *req.AutoAdjust
	}
	if req.AlertOnOverfill != nil {
		cfg.AlertOnOverfill = *req.AlertOnOverfill
	}

	h.protection.UpdateConfig(cfg)
	h.logger.Info("overfill config updated by operator",
		zap.Bool("allow_overfills", cfg.AllowOverfills),
		zap.Float64("tolerance_percent", cfg.TolerancePercent),
		zap.Bool("auto_adjust", cfg.AutoAdjust),
	)
	respondWithJSON(w, http.StatusOK, h.protection.GetConfig())
}
