package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"perpguard/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://ops.example.com ", ""})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                        // non-browser client
		{"http://localhost:3000", true},   // allowed
		{"https://ops.example.com", true}, // trimmed
		{"http://evil.com", false},        // not allowed
		{"http://localhost:8080", false},  // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {}, {"*"}, {"http://localhost:3000", "*"}} {
		checker := NewOriginChecker(origins)
		if !checker.Check("https://anything.example.org") {
			t.Errorf("origins %v must allow any origin", origins)
		}
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	// Run не запущен: очередь не разбирается
	hub := NewHub(nil, nil)

	for i := 0; i < broadcastBufferSize; i++ {
		if err := hub.Broadcast(map[string]int{"i": i}); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- hub.Broadcast(map[string]int{"i": -1})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrBroadcastBufferFull) {
			t.Errorf("expected ErrBroadcastBufferFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on full buffer")
	}

	if hub.DroppedMessages() != 1 {
		t.Errorf("expected 1 dropped message, got %d", hub.DroppedMessages())
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(nil, nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hub.Run() did not exit after Stop()")
	}

	if err := hub.BroadcastNotification(&models.Notification{Type: models.NotificationTypeOverfill}); !errors.Is(err, ErrHubStopped) {
		t.Errorf("expected ErrHubStopped, got %v", err)
	}
}

func TestHub_NilPayloads(t *testing.T) {
	hub := NewHub(nil, nil)

	if err := hub.BroadcastNotification(nil); err != nil {
		t.Error(err)
	}
	if err := hub.BroadcastReconciliationReport(nil); err != nil {
		t.Error(err)
	}
	if err := hub.BroadcastBreakerUpdate(nil); err != nil {
		t.Error(err)
	}
	if err := hub.BroadcastHealthUpdate(nil); err != nil {
		t.Error(err)
	}
	if len(hub.broadcast) != 0 {
		t.Error("nil payloads must not be queued")
	}
}

func TestNewReconciliationReportMessage_SkipsMatched(t *testing.T) {
	report := &models.ReconciliationReport{
		ID:             "r-1",
		TotalPositions: 3,
		Matched:        2,
		Discrepancies:  1,
		Results: []*models.ReconciliationResult{
			{Symbol: "BTCUSDT", Matched: true},
			{Symbol: "ETHUSDT", Matched: false, Discrepancy: &models.Discrepancy{Type: models.DiscrepancyQuantity}},
			{Symbol: "SOLUSDT", Matched: true},
		},
	}

	msg := NewReconciliationReportMessage(report)
	if msg.Type != MessageTypeReconciliationReport {
		t.Errorf("unexpected type %s", msg.Type)
	}
	if len(msg.Data.Results) != 1 || msg.Data.Results[0].Symbol != "ETHUSDT" {
		t.Errorf("expected only discrepancy results, got %+v", msg.Data.Results)
	}
	if msg.Data.TotalPositions != 3 || msg.Data.Matched != 2 {
		t.Error("counters must be preserved")
	}
}

// ============================================================
// Integration with real connections
// ============================================================

func dialHub(t *testing.T, hub *Hub, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func TestHub_DeliversToClients(t *testing.T) {
	hub := NewHub([]string{"http://ops.local"}, nil)
	go hub.Run()
	defer hub.Stop()

	conn, _, err := dialHub(t, hub, "http://ops.local")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	err = hub.BroadcastNotification(&models.Notification{
		ID:       7,
		Type:     models.NotificationTypeBreakerOpen,
		Severity: models.SeverityError,
		Source:   "circuit_breaker",
		Message:  "breaker venue_api opened",
	})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	var notif NotificationMessage
	readMessage(t, conn, &notif)
	if notif.Type != MessageTypeNotification || notif.Data.ID != 7 || notif.Data.Source != "circuit_breaker" {
		t.Errorf("unexpected message %+v", notif.Data)
	}

	hub.BroadcastBreakerUpdate(&models.BreakerState{Name: "venue_api", State: models.BreakerOpen, IsOpen: true})

	var update BreakerUpdateMessage
	readMessage(t, conn, &update)
	if update.Type != MessageTypeBreakerUpdate || update.Data.Name != "venue_api" || !update.Data.IsOpen {
		t.Errorf("unexpected breaker update %+v", update.Data)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub([]string{"http://ops.local"}, nil)
	go hub.Run()
	defer hub.Stop()

	_, resp, err := dialHub(t, hub, "http://evil.com")
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}
	if hub.ClientCount() != 0 {
		t.Error("foreign client must not be registered")
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	conn, _, err := dialHub(t, hub, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

// ============================================================
// Parallel Stress Test
// ============================================================

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}

// ============================================================
// Benchmarks
// ============================================================

func BenchmarkHub_BroadcastNotification(b *testing.B) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	notif := &models.Notification{
		Type:     models.NotificationTypeOverfill,
		Severity: models.SeverityWarn,
		Message:  "Overfill on order o-1",
		Meta:     map[string]interface{}{"order_id": "o-1", "overfill_qty": 0.5},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastNotification(notif)
	}
}

func BenchmarkOriginChecker_Check(b *testing.B) {
	checker := NewOriginChecker([]string{"http://localhost:3000", "https://ops.example.com"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		checker.Check("http://localhost:3000")
	}
}
