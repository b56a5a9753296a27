package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"perpguard/pkg/crypto"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func newTestAuth(t *testing.T) *OperatorAuth {
	t.Helper()
	hash, err := crypto.HashPasswordWithCost("s3cret", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return NewOperatorAuth("operator", hash, nil)
}

func TestOperatorAuth(t *testing.T) {
	tests := []struct {
		name       string
		user, pass string
		noAuth     bool
		wantStatus int
	}{
		{name: "no credentials", noAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "operator", pass: "nope", wantStatus: http.StatusUnauthorized},
		{name: "wrong user", user: "admin", pass: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "valid", user: "operator", pass: "s3cret", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestAuth(t).Middleware(okHandler)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/breakers/venue_api/reset", nil)
			if !tt.noAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 must carry WWW-Authenticate")
			}
		})
	}
}

func TestOperatorAuth_ThrottlesFailures(t *testing.T) {
	auth := newTestAuth(t)
	handler := auth.Middleware(okHandler)

	do := func(remote, pass string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/run", nil)
		req.RemoteAddr = remote
		req.SetBasicAuth("operator", pass)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < authFailureBurst; i++ {
		if code := do("10.0.0.1:5000", "guess"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, code)
		}
	}

	if code := do("10.0.0.1:5001", "s3cret"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after repeated failures, got %d", code)
	}
	if code := do("10.0.0.2:5000", "s3cret"); code != http.StatusOK {
		t.Errorf("other clients must not be throttled, got %d", code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{
			name:       "allowed origin",
			allowed:    []string{"http://ops.local"},
			origin:     "http://ops.local",
			method:     http.MethodGet,
			wantOrigin: "http://ops.local",
			wantStatus: http.StatusOK,
		},
		{
			name:       "foreign origin",
			allowed:    []string{"http://ops.local"},
			origin:     "http://evil.com",
			method:     http.MethodGet,
			wantOrigin: "",
			wantStatus: http.StatusOK,
		},
		{
			name:       "allow all",
			allowed:    nil,
			origin:     "http://anything.local",
			method:     http.MethodGet,
			wantOrigin: "*",
			wantStatus: http.StatusOK,
		},
		{
			name:       "preflight",
			allowed:    []string{"http://ops.local"},
			origin:     "http://ops.local",
			method:     http.MethodOptions,
			wantOrigin: "http://ops.local",
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowed)(okHandler)

			req := httptest.NewRequest(tt.method, "/api/v1/breakers", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestLogging_RequestID(t *testing.T) {
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("status must pass through, got %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("request id must be generated")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("client request id must be kept, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if body := w.Body.String(); body == "" || strings.Contains(body, "boom") {
		t.Errorf("panic details must not leak: %q", body)
	}
}

