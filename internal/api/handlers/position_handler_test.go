package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"perpguard/internal/models"
	"perpguard/internal/service"
)

func newTestBook() *service.AdjustmentService {
	book := service.NewAdjustmentService(nil, nil, nil)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	book.ApplyFill(&models.FillEvent{FillID: "f-1", OrderID: "o-1", Symbol: "BTCUSDT", Side: models.SideBuy, FillQty: 1, FillPx: 100, Timestamp: ts})
	book.ApplyFill(&models.FillEvent{FillID: "f-2", OrderID: "o-2", Symbol: "ETHUSDT", Side: models.SideSell, FillQty: 3, FillPx: 3000, Timestamp: ts})
	return book
}

func TestPositionHandler_GetPositions(t *testing.T) {
	handler := NewPositionHandler(newTestBook(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	w := httptest.NewRecorder()
	handler.GetPositions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp PositionListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 positions, got %d", resp.Total)
	}
	for _, p := range resp.Positions {
		if len(p.Fills) != 0 {
			t.Errorf("list must not carry fills: %s has %d", p.Symbol, len(p.Fills))
		}
	}
}

func TestPositionHandler_GetPosition(t *testing.T) {
	handler := NewPositionHandler(newTestBook(), nil)

	tests := []struct {
		name       string
		symbol     string
		wantStatus int
		wantSide   string
	}{
		{"exact symbol", "ETHUSDT", http.StatusOK, models.PositionShort},
		{"normalized symbol", "btc-usdt", http.StatusOK, models.PositionLong},
		{"no position", "SOLUSDT", http.StatusNotFound, ""},
		{"invalid symbol", "BTC@USDT", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/"+tt.symbol, nil)
			req = mux.SetURLVars(req, map[string]string{"symbol": tt.symbol})
			w := httptest.NewRecorder()
			handler.GetPosition(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var pos models.LocalPosition
			if err := json.NewDecoder(w.Body).Decode(&pos); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if pos.Side != tt.wantSide {
				t.Errorf("expected side %s, got %s", tt.wantSide, pos.Side)
			}
			if len(pos.Fills) != 1 {
				t.Errorf("single position must carry its fills, got %d", len(pos.Fills))
			}
		})
	}
}
