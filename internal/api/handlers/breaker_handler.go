package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

// BreakerHandler отвечает за просмотр и ручное управление circuit breakers
//
// Endpoints:
// - GET /api/v1/breakers - состояние всех breakers
// - GET /api/v1/breakers/metrics - метрики всех breakers
// - GET /api/v1/breakers/{name} - состояние и метрики одного breaker
// - POST /api/v1/breakers/{name}/open - принудительно открыть (оператор)
// - POST /api/v1/breakers/{name}/reset - сбросить в CLOSED (оператор)
type BreakerHandler struct {
	breakers    BreakerController
	broadcaster StatusBroadcaster
	logger      *zap.Logger
}

// NewBreakerHandler создает новый BreakerHandler
func NewBreakerHandler(breakers BreakerController, logger *zap.Logger) *BreakerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerHandler{
		breakers: breakers,
		logger:   logger.With(utils.Component("api")),
	}
}

// SetBroadcaster подключает рассылку изменений состояния
func (h *BreakerHandler) SetBroadcaster(b StatusBroadcaster) {
	h.broadcaster = b
}

// BreakerListResponse - список breakers, отсортированный по имени
type BreakerListResponse struct {
	Breakers []*models.BreakerState `json:"breakers"`
	Open     int                    `json:"open"`
	Total    int                    `json:"total"`
}

// BreakerDetailResponse - состояние и метрики одного breaker
type BreakerDetailResponse struct {
	State   *models.BreakerState  `json:"state"`
	Metrics models.BreakerMetrics `json:"metrics"`
}

// OpenBreakerRequest - тело запроса ручного открытия
type OpenBreakerRequest struct {
	Reason string `json:"reason"`
}

// GetBreakers возвращает состояние всех breakers
//
// GET /api/v1/breakers
//
// HTTP коды:
// - 200 OK
func (h *BreakerHandler) GetBreakers(w http.ResponseWriter, r *http.Request) {
	statuses := h.breakers.GetAllBreakerStatuses()

	resp := BreakerListResponse{
		Breakers: make([]*models.BreakerState, 0, len(statuses)),
		Total:    len(statuses),
	}
	for _, st := range statuses {
		resp.Breakers = append(resp.Breakers, st)
		if st.IsOpen {
			resp.Open++
		}
	}
	sort.Slice(resp.Breakers, func(i, j int) bool {
		return resp.Breakers[i].Name < resp.Breakers[j].Name
	})

	respondWithJSON(w, http.StatusOK, resp)
}

// GetAllMetrics возвращает метрики всех breakers
//
// GET /api/v1/breakers/metrics
func (h *BreakerHandler) GetAllMetrics(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.breakers.GetAllMetrics())
}

// GetBreaker возвращает состояние и метрики одного breaker
//
// GET /api/v1/breakers/{name}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: breaker не зарегистрирован
func (h *BreakerHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	state, ok := h.breakers.GetBreakerStatus(name)
	if !ok {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "breaker not found: "+name)
		return
	}
	metrics, _ := h.breakers.GetMetrics(name)

	respondWithJSON(w, http.StatusOK, BreakerDetailResponse{State: state, Metrics: metrics})
}

// OpenBreaker принудительно открывает breaker
//
// POST /api/v1/breakers/{name}/open
//
// Тело (необязательно): {"reason": "maintenance"}
//
// HTTP коды:
// - 200 OK: возвращает новое состояние
// - 400 Bad Request: некорректный JSON
// - 404 Not Found: breaker не зарегистрирован
func (h *BreakerHandler) OpenBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req OpenBreakerRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}

	if err := h.breakers.OpenBreaker(name, req.Reason); err != nil {
		h.respondBreakerError(w, name, err)
		return
	}

	h.logger.Warn("breaker opened by operator", utils.Breaker(name), zap.String("reason", req.Reason))
	h.respondState(w, name)
}

// ResetBreaker возвращает breaker в CLOSED и обнуляет метрики
//
// POST /api/v1/breakers/{name}/reset
//
// HTTP коды:
// - 200 OK: возвращает новое состояние
// - 404 Not Found: breaker не зарегистрирован
func (h *BreakerHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.breakers.ResetBreaker(name); err != nil {
		h.respondBreakerError(w, name, err)
		return
	}

	h.logger.Info("breaker reset by operator", utils.Breaker(name))
	h.respondState(w, name)
}

func (h *BreakerHandler) respondState(w http.ResponseWriter, name string) {
	state, ok := h.breakers.GetBreakerStatus(name)
	if !ok {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "breaker not found: "+name)
		return
	}

	if h.broadcaster != nil {
		if err := h.broadcaster.BroadcastBreakerUpdate(state); err != nil {
			h.logger.Warn("failed to broadcast breaker update", utils.Breaker(name), zap.Error(err))
		}
	}

	respondWithJSON(w, http.StatusOK, state)
}

func (h *BreakerHandler) respondBreakerError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, bot.ErrUnknownBreaker) {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "breaker not found: "+name)
		return
	}
	h.logger.Error("breaker operation failed", utils.Breaker(name), zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, CodeInternal, "breaker operation failed")
}
