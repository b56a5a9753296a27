package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/internal/repository"
	"perpguard/internal/service"
	"perpguard/pkg/utils"
)

// reconcileRunTimeout - ручной проход сверки, включая запрос позиций биржи
const reconcileRunTimeout = 30 * time.Second

// ReconciliationHandler отвечает за сверку позиций с биржей
//
// Endpoints:
// - GET /api/v1/reconciliation/history?limit=N - последние отчёты в памяти
// - DELETE /api/v1/reconciliation/history - очистить историю в памяти (оператор)
// - GET /api/v1/reconciliation/stats - накопительная статистика
// - POST /api/v1/reconciliation/run - выполнить проход сверки сейчас (оператор)
// - GET /api/v1/reconciliation/config - текущие параметры
// - PATCH /api/v1/reconciliation/config - частичное обновление параметров (оператор)
// - GET /api/v1/reconciliation/reports?limit=N - журнал отчётов из БД
// - GET /api/v1/reconciliation/reports/{id} - один отчёт
// - GET /api/v1/reconciliation/adjustments?symbol=&limit=N - журнал корректировок
// - POST /api/v1/reconciliation/adjustments - применить корректировку вручную (оператор)
//
// Сверка только формирует команды. При выключенном auto_apply оператор
// подтверждает их через POST /adjustments.
type ReconciliationHandler struct {
	reconciler ReconcilerController
	journal    service.ReconciliationServiceInterface
	logger     *zap.Logger
}

// NewReconciliationHandler создает новый ReconciliationHandler
func NewReconciliationHandler(reconciler ReconcilerController, journal service.ReconciliationServiceInterface, logger *zap.Logger) *ReconciliationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationHandler{
		reconciler: reconciler,
		journal:    journal,
		logger:     logger.With(utils.Component("api")),
	}
}

// ReportListResponse - список отчётов сверки
type ReportListResponse struct {
	Reports []*models.ReconciliationReport `json:"reports"`
	Total   int                            `json:"total"`
}

// AdjustmentListResponse - журнал корректировок
type AdjustmentListResponse struct {
	Adjustments []*models.AdjustmentRecord `json:"adjustments"`
	Total       int                        `json:"total"`
}

// UpdateReconcilerConfigRequest - частичное обновление, nil поля не меняются
type UpdateReconcilerConfigRequest struct {
	TolerancePercent      *float64 `json:"tolerance_percent,omitempty"`
	AutoApply             *bool    `json:"auto_apply,omitempty"`
	AlertOnDiscrepancy    *bool    `json:"alert_on_discrepancy,omitempty"`
	MinDifference         *float64 `json:"min_difference,omitempty"`
	PriceTolerancePercent *float64 `json:"price_tolerance_percent,omitempty"`
}

// ApplyAdjustmentRequest - корректирующая команда от оператора
type ApplyAdjustmentRequest struct {
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
}

// GetHistory возвращает последние отчёты из памяти
//
// GET /api/v1/reconciliation/history
//
// Query параметры:
// - limit (int): количество отчётов (по умолчанию 50, максимум 500)
func (h *ReconciliationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultListLimit, maxListLimit)

	reports := h.reconciler.GetHistory(limit)
	if reports == nil {
		reports = []*models.ReconciliationReport{}
	}
	respondWithJSON(w, http.StatusOK, ReportListResponse{Reports: reports, Total: len(reports)})
}

// ClearHistory очищает историю отчётов в памяти. Журнал в БД не затрагивается.
//
// DELETE /api/v1/reconciliation/history
func (h *ReconciliationHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.reconciler.ClearHistory()
	h.logger.Info("reconciliation history cleared by operator")
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "reconciliation history cleared"})
}

// GetStats возвращает накопительную статистику сверки
//
// GET /api/v1/reconciliation/stats
func (h *ReconciliationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.reconciler.GetStatistics())
}

// RunReconciliation выполняет проход сверки и возвращает отчёт
//
// POST /api/v1/reconciliation/run
//
// HTTP коды:
// - 200 OK: отчёт сверки
// - 502 Bad Gateway: не удалось получить позиции
// - 503 Service Unavailable: источники не настроены или breaker биржи открыт
func (h *ReconciliationHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), reconcileRunTimeout)
	defer cancel()

	report, err := h.reconciler.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrNoPositionSource):
			respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "reconciliation sources are not configured")
		case errors.Is(err, bot.ErrBreakerOpen):
			respondWithDetails(w, http.StatusServiceUnavailable, CodeUnavailable, "venue circuit breaker is open", err.Error())
		default:
			h.logger.Error("manual reconciliation failed", zap.Error(err))
			respondWithDetails(w, http.StatusBadGateway, CodeUnavailable, "failed to reconcile positions", err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

// GetConfig возвращает текущие параметры сверки
//
// GET /api/v1/reconciliation/config
func (h *ReconciliationHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.reconciler.GetConfig())
}

// UpdateConfig частично обновляет параметры сверки
//
// PATCH /api/v1/reconciliation/config
//
// Тело: {"tolerance_percent": 0.05, "auto_apply": true}
//
// HTTP коды:
// - 200 OK: новая конфигурация
// - 400 Bad Request: некорректный JSON или значения вне диапазона
func (h *ReconciliationHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateReconcilerConfigRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}

	cfg := h.reconciler.GetConfig()
	var errs utils.ValidationErrors

	if req.TolerancePercent != nil {
		errs.AddError("tolerance_percent", utils.ValidatePercentage(*req.TolerancePercent))
		cfg.TolerancePercent = *req.TolerancePercent
	}
	if req.PriceTolerancePercent != nil {
		errs.AddError("price_tolerance_percent", utils.ValidatePercentage(*req.PriceTolerancePercent))
		cfg.PriceTolerancePercent = *req.PriceTolerancePercent
	}
	if req.MinDifference != nil {
		if *req.MinDifference < 0 {
			errs.Add("min_difference", "must not be negative")
		}
		cfg.MinDifference = *req.MinDifference
	}
	if req.AutoApply != nil {
		cfg.AutoApply = *req.AutoApply
	}
	if req.AlertOnDiscrepancy != nil {
		cfg.AlertOnDiscrepancy = *req.AlertOnDiscrepancy
	}

	if errs.HasErrors() {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid reconciliation config", errs.Error())
		return
	}

	h.reconciler.UpdateConfig(cfg)
	h.logger.Info("reconciliation config updated by operator",
		zap.Float64("tolerance_percent", cfg.TolerancePercent),
		zap.Bool("auto_apply", cfg.AutoApply),
		zap.Float64("min_difference", cfg.MinDifference),
	)
	respondWithJSON(w, http.StatusOK, h.reconciler.GetConfig())
}

// GetReports возвращает журнал отчётов из БД
//
// GET /api/v1/reconciliation/reports
//
// Query параметры:
// - limit (int): количество отчётов (по умолчанию 20, максимум 200)
func (h *ReconciliationHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 200)

	reports, err := h.journal.GetReports(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load reconciliation reports", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to load reconciliation reports")
		return
	}
	if reports == nil {
		reports = []*models.ReconciliationReport{}
	}
	respondWithJSON(w, http.StatusOK, ReportListResponse{Reports: reports, Total: len(reports)})
}

// GetReport возвращает один отчёт из журнала
//
// GET /api/v1/reconciliation/reports/{id}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: отчёта нет
func (h *ReconciliationHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := h.journal.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrReportNotFound) {
			respondWithError(w, http.StatusNotFound, CodeNotFound, "reconciliation report not found: "+id)
			return
		}
		h.logger.Error("failed to load reconciliation report", utils.ReportID(id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to load reconciliation report")
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// GetAdjustments возвращает журнал применённых корректировок
//
// GET /api/v1/reconciliation/adjustments
//
// Query параметры:
// - symbol (string): фильтр по символу
// - limit (int): количество записей (по умолчанию 50, максимум 500)
func (h *ReconciliationHandler) GetAdjustments(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol != "" {
		if err := utils.ValidateSymbol(symbol); err != nil {
			respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid symbol", err.Error())
			return
		}
		symbol = utils.NormalizeSymbol(symbol)
	}
	limit := parseLimit(r, defaultListLimit, maxListLimit)

	records, err := h.journal.GetAdjustments(r.Context(), symbol, limit)
	if err != nil {
		h.logger.Error("failed to load adjustments", utils.Symbol(symbol), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to load adjustments")
		return
	}
	if records == nil {
		records = []*models.AdjustmentRecord{}
	}
	respondWithJSON(w, http.StatusOK, AdjustmentListResponse{Adjustments: records, Total: len(records)})
}

// ApplyAdjustment применяет корректирующую команду к локальной книге позиций
//
// POST /api/v1/reconciliation/adjustments
//
// Тело: {"action": "SYNC_POSITION", "symbol": "BTCUSDT", "side": "LONG", "quantity": 1.5, "price": 101}
//
// HTTP коды:
// - 200 OK: команда применена
// - 400 Bad Request: некорректная команда
// - 422 Unprocessable Entity: исполнитель отклонил команду
// - 503 Service Unavailable: исполнитель не настроен или breaker открыт
func (h *ReconciliationHandler) ApplyAdjustment(w http.ResponseWriter, r *http.Request) {
	var req ApplyAdjustmentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}

	adj, err := req.toAdjustment()
	if err != nil {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid adjustment", err.Error())
		return
	}

	if err := h.reconciler.ApplyAdjustment(r.Context(), adj); err != nil {
		switch {
		case errors.Is(err, bot.ErrUnknownAdjustment):
			respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid adjustment", err.Error())
		case errors.Is(err, bot.ErrNoPositionMutator):
			respondWithError(w, http.StatusServiceUnavailable, CodeUnavailable, "position mutator is not configured")
		case errors.Is(err, bot.ErrBreakerOpen):
			respondWithDetails(w, http.StatusServiceUnavailable, CodeUnavailable, "position recovery circuit breaker is open", err.Error())
		default:
			h.logger.Warn("manual adjustment rejected",
				utils.Symbol(adj.Symbol),
				zap.String("action", string(adj.Action)),
				zap.Error(err),
			)
			respondWithDetails(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "adjustment rejected", err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "adjustment applied", Data: adj})
}

// toAdjustment проверяет поля в зависимости от действия и нормализует символ
func (req ApplyAdjustmentRequest) toAdjustment() (*models.ReconciliationAdjustment, error) {
	var errs utils.ValidationErrors

	action := models.AdjustmentAction(strings.ToUpper(strings.TrimSpace(req.Action)))
	errs.AddError("symbol", utils.ValidateSymbol(req.Symbol))

	side := strings.ToUpper(strings.TrimSpace(req.Side))
	switch action {
	case models.ActionAddFill:
		errs.AddError("side", utils.ValidateSide(side, models.SideBuy, models.SideSell))
		errs.AddError("quantity", utils.ValidateQuantity(req.Quantity))
		errs.AddError("price", utils.ValidatePrice(req.Price))
	case models.ActionAdjustPosition:
		errs.AddError("price", utils.ValidatePrice(req.Price))
	case models.ActionSyncPosition:
		if req.Quantity < 0 {
			errs.Add("quantity", "must not be negative")
		}
		if req.Quantity > 0 {
			errs.AddError("side", utils.ValidateSide(side, models.PositionLong, models.PositionShort))
			errs.AddError("price", utils.ValidatePrice(req.Price))
		}
	case models.ActionClosePosition:
	default:
		errs.Add("action", "must be one of ADD_FILL, ADJUST_POSITION, SYNC_POSITION, CLOSE_POSITION")
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual operator adjustment"
	}
	return &models.ReconciliationAdjustment{
		Action: action,
		Symbol: utils.NormalizeSymbol(req.Symbol),
		Details: models.AdjustmentDetails{
			Side:     side,
			Quantity: req.Quantity,
			Price:    req.Price,
			Reason:   reason,
		},
	}, nil
}
