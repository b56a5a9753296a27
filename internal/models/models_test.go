package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ============ OrderState Tests ============

func TestOrderState_RemainingQty(t *testing.T) {
	tests := []struct {
		name   string
		order  OrderState
		expect float64
	}{
		{"new order", OrderState{OrderQty: 2}, 2},
		{"partially filled", OrderState{OrderQty: 2, FilledQty: 0.5}, 1.5},
		{"fully filled", OrderState{OrderQty: 2, FilledQty: 2}, 0},
		{"overfilled", OrderState{OrderQty: 2, FilledQty: 2.5}, -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.RemainingQty(); got != tt.expect {
				t.Errorf("RemainingQty() = %v, ожидалось %v", got, tt.expect)
			}
		})
	}
}

// ============ HealthStatus Tests ============

func TestHealthStatus_Severity(t *testing.T) {
	ordered := []HealthStatus{HealthHealthy, HealthDegraded, HealthUnhealthy, HealthCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Severity() <= ordered[i-1].Severity() {
			t.Errorf("%s должен быть хуже %s", ordered[i], ordered[i-1])
		}
	}

	// неизвестный статус не должен выглядеть здоровым
	if got := HealthStatus("UNKNOWN").Severity(); got != HealthUnhealthy.Severity() {
		t.Errorf("неизвестный статус: severity %d, ожидалось %d", got, HealthUnhealthy.Severity())
	}
}

// ============ JSON Contract Tests ============

func TestBreakerState_JSONOmitsUnsetTimes(t *testing.T) {
	closed := BreakerState{Name: "venue_api", State: BreakerClosed, Threshold: 10}

	data, err := json.Marshal(closed)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	s := string(data)
	for _, field := range []string{"opened_at", "last_alert_at", "last_error"} {
		if strings.Contains(s, field) {
			t.Errorf("поле %q не должно быть в JSON закрытого breaker: %s", field, s)
		}
	}

	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	open := BreakerState{Name: "venue_api", State: BreakerOpen, IsOpen: true, OpenedAt: &openedAt, LastError: "timeout"}
	data, err = json.Marshal(open)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	if !strings.Contains(string(data), `"opened_at":"2026-03-01T12:00:00Z"`) {
		t.Errorf("opened_at должен быть в RFC3339: %s", data)
	}
}

func TestReconciliationResult_MatchedHasNoDiscrepancy(t *testing.T) {
	res := ReconciliationResult{
		Symbol:  "BTCUSDT",
		Matched: true,
		Local:   &LocalPosition{Symbol: "BTCUSDT", Side: PositionLong, Quantity: 1, Price: 100},
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "discrepancy") || strings.Contains(s, "adjustment") {
		t.Errorf("совпавший результат не должен содержать discrepancy/adjustment: %s", s)
	}
	if strings.Contains(s, "fills") {
		t.Errorf("пустые fills не должны попадать в JSON: %s", s)
	}
}

func TestNotification_MetaRoundTrip(t *testing.T) {
	notif := Notification{
		Type:     NotificationTypeOverfill,
		Severity: SeverityWarn,
		Message:  "Overfill on order o-1",
		Meta:     map[string]interface{}{"order_id": "o-1", "overfill_qty": 0.5},
	}

	data, err := json.Marshal(notif)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}

	var decoded Notification
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("ошибка десериализации: %v", err)
	}
	if decoded.Meta["order_id"] != "o-1" {
		t.Errorf("order_id = %v, ожидалось o-1", decoded.Meta["order_id"])
	}
	// числа в map[string]interface{} возвращаются как float64
	if decoded.Meta["overfill_qty"] != 0.5 {
		t.Errorf("overfill_qty = %v, ожидалось 0.5", decoded.Meta["overfill_qty"])
	}
}

func TestAdjustmentDetails_SideSemantics(t *testing.T) {
	// ADD_FILL несёт сторону fill, остальные действия - сторону позиции
	addFill := ReconciliationAdjustment{
		Action:  ActionAddFill,
		Symbol:  "ETHUSDT",
		Details: AdjustmentDetails{Side: SideBuy, Quantity: 0.3, Price: 3000},
	}
	data, err := json.Marshal(addFill)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	if !strings.Contains(string(data), `"action":"ADD_FILL"`) || !strings.Contains(string(data), `"side":"BUY"`) {
		t.Errorf("неожиданный JSON: %s", data)
	}

	closePos := ReconciliationAdjustment{Action: ActionClosePosition, Symbol: "ETHUSDT"}
	data, err = json.Marshal(closePos)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	if strings.Contains(string(data), `"side"`) || strings.Contains(string(data), `"reason"`) {
		t.Errorf("пустые side/reason не должны попадать в JSON: %s", data)
	}
}
