package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"perpguard/internal/bot"
	"perpguard/internal/models"
)

func newTestBreakers() *bot.CircuitBreakerManager {
	return bot.NewCircuitBreakerManager(nil, nil, nil)
}

func TestBreakerHandler_GetBreakers(t *testing.T) {
	breakers := newTestBreakers()
	if err := breakers.OpenBreaker(bot.BreakerDatabase, "maintenance"); err != nil {
		t.Fatalf("open: %v", err)
	}
	handler := NewBreakerHandler(breakers, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
	w := httptest.NewRecorder()
	handler.GetBreakers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp BreakerListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Total != len(bot.DefaultBreakerConfigs()) {
		t.Errorf("expected %d breakers, got %d", len(bot.DefaultBreakerConfigs()), resp.Total)
	}
	if resp.Open != 1 {
		t.Errorf("expected 1 open breaker, got %d", resp.Open)
	}
	for i := 1; i < len(resp.Breakers); i++ {
		if resp.Breakers[i-1].Name > resp.Breakers[i].Name {
			t.Fatalf("breakers must be sorted by name: %s > %s", resp.Breakers[i-1].Name, resp.Breakers[i].Name)
		}
	}
}

func TestBreakerHandler_GetBreaker(t *testing.T) {
	breakers := newTestBreakers()
	breakers.Execute(context.Background(), bot.BreakerVenueAPI, func(ctx context.Context) error {
		return errors.New("timeout")
	}, nil)
	handler := NewBreakerHandler(breakers, nil)

	t.Run("existing breaker", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers/venue_api", nil)
		req = mux.SetURLVars(req, map[string]string{"name": bot.BreakerVenueAPI})
		w := httptest.NewRecorder()
		handler.GetBreaker(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var resp BreakerDetailResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.State.ErrorCount != 1 || resp.State.LastError != "timeout" {
			t.Errorf("unexpected state: %+v", resp.State)
		}
		if resp.Metrics.TotalCalls != 1 || resp.Metrics.FailedCalls != 1 {
			t.Errorf("unexpected metrics: %+v", resp.Metrics)
		}
	})

	t.Run("unknown breaker", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers/nope", nil)
		req = mux.SetURLVars(req, map[string]string{"name": "nope"})
		w := httptest.NewRecorder()
		handler.GetBreaker(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestBreakerHandler_GetAllMetrics(t *testing.T) {
	breakers := newTestBreakers()
	breakers.Execute(context.Background(), bot.BreakerDatabase, func(ctx context.Context) error { return nil }, nil)
	handler := NewBreakerHandler(breakers, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers/metrics", nil)
	w := httptest.NewRecorder()
	handler.GetAllMetrics(w, req)

	var resp map[string]models.BreakerMetrics
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp[bot.BreakerDatabase].SuccessfulCalls != 1 {
		t.Errorf("expected 1 successful database call, got %+v", resp[bot.BreakerDatabase])
	}
}

func TestBreakerHandler_OpenAndReset(t *testing.T) {
	breakers := newTestBreakers()
	broadcaster := &mockBroadcaster{}
	handler := NewBreakerHandler(breakers, nil)
	handler.SetBroadcaster(broadcaster)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/breakers/execution/open", strings.NewReader(`{"reason":"venue maintenance"}`))
	req = mux.SetURLVars(req, map[string]string{"name": bot.BreakerExecution})
	w := httptest.NewRecorder()
	handler.OpenBreaker(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("open: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var state models.BreakerState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !state.IsOpen || state.State != models.BreakerOpen || state.LastError != "venue maintenance" {
		t.Errorf("unexpected state after open: %+v", state)
	}

	// Без тела - причина по умолчанию
	req = httptest.NewRequest(http.MethodPost, "/api/v1/breakers/database/open", nil)
	req = mux.SetURLVars(req, map[string]string{"name": bot.BreakerDatabase})
	w = httptest.NewRecorder()
	handler.OpenBreaker(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("open without body: expected status %d, got %d", http.StatusOK, w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/breakers/execution/reset", nil)
	req = mux.SetURLVars(req, map[string]string{"name": bot.BreakerExecution})
	w = httptest.NewRecorder()
	handler.ResetBreaker(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected status %d, got %d", http.StatusOK, w.Code)
	}
	state = models.BreakerState{}
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.IsOpen || state.State != models.BreakerClosed || state.ErrorCount != 0 {
		t.Errorf("unexpected state after reset: %+v", state)
	}

	if len(broadcaster.breakers) != 3 {
		t.Errorf("expected 3 breaker broadcasts, got %d", len(broadcaster.breakers))
	}
}

func TestBreakerHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		call       func(h *BreakerHandler, w http.ResponseWriter, r *http.Request)
		breaker    string
		body       string
		wantStatus int
	}{
		{
			name:       "open unknown",
			call:       (*BreakerHandler).OpenBreaker,
			breaker:    "nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "reset unknown",
			call:       (*BreakerHandler).ResetBreaker,
			breaker:    "nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "open invalid json",
			call:       (*BreakerHandler).OpenBreaker,
			breaker:    bot.BreakerExecution,
			body:       `{"reason":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewBreakerHandler(newTestBreakers(), nil)

			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(http.MethodPost, "/api/v1/breakers/x", strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(http.MethodPost, "/api/v1/breakers/x", nil)
			}
			req = mux.SetURLVars(req, map[string]string{"name": tt.breaker})
			w := httptest.NewRecorder()

			tt.call(handler, w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp.Error == "" || resp.Code == "" {
				t.Errorf("error response must carry message and code: %+v", resp)
			}
		})
	}
}
