package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

// PositionHandler отдаёт локальную книгу позиций (сторона сверки "local")
//
// Endpoints:
// - GET /api/v1/positions - все открытые локальные позиции
// - GET /api/v1/positions/{symbol} - позиция символа с последними fill
type PositionHandler struct {
	book   PositionBook
	logger *zap.Logger
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(book PositionBook, logger *zap.Logger) *PositionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionHandler{
		book:   book,
		logger: logger.With(utils.Component("api")),
	}
}

// PositionListResponse - локальные позиции без истории fill
type PositionListResponse struct {
	Positions []*models.LocalPosition `json:"positions"`
	Total     int                     `json:"total"`
}

// GetPositions возвращает все локальные позиции
//
// GET /api/v1/positions
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.book.GetLocalPositions(r.Context())
	if err != nil {
		h.logger.Error("failed to load local positions", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to load positions")
		return
	}

	// в списке fill не нужны, их отдаёт GetPosition
	list := make([]*models.LocalPosition, 0, len(positions))
	for _, p := range positions {
		cp := *p
		cp.Fills = nil
		list = append(list, &cp)
	}
	respondWithJSON(w, http.StatusOK, PositionListResponse{Positions: list, Total: len(list)})
}

// GetPosition возвращает позицию символа
//
// GET /api/v1/positions/{symbol}
//
// HTTP коды:
// - 200 OK
// - 400 Bad Request: некорректный символ
// - 404 Not Found: локальной позиции нет
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["symbol"]
	if err := utils.ValidateSymbol(raw); err != nil {
		respondWithDetails(w, http.StatusBadRequest, CodeInvalidRequest, "invalid symbol", err.Error())
		return
	}
	symbol := utils.NormalizeSymbol(raw)

	pos, ok := h.book.GetPosition(symbol)
	if !ok {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "no local position for "+symbol)
		return
	}
	respondWithJSON(w, http.StatusOK, pos)
}
