package bot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

// maxOverfillHistory - размер кольцевого журнала overfill записей
const maxOverfillHistory = 1000

var (
	ErrInvalidOrder           = errors.New("invalid order")
	ErrOrderAlreadyRegistered = errors.New("order already registered")
)

// OverfillConfig - настройки защиты от overfill
type OverfillConfig struct {
	AllowOverfills   bool    `json:"allow_overfills"`   // пропускать превышение как есть
	TolerancePercent float64 `json:"tolerance_percent"` // допуск от объёма ордера, %
	AutoAdjust       bool    `json:"auto_adjust"`       // урезать fill до остатка ордера
	AlertOnOverfill  bool    `json:"alert_on_overfill"`
}

// DefaultOverfillConfig возвращает конфигурацию по умолчанию
func DefaultOverfillConfig() OverfillConfig {
	return OverfillConfig{
		AllowOverfills:   false,
		TolerancePercent: 0.01,
		AutoAdjust:       true,
		AlertOnOverfill:  true,
	}
}

// AdjustedFill - урезанный fill, который вызывающий обязан применить вместо исходного
type AdjustedFill struct {
	Qty float64 `json:"qty"`
	Px  float64 `json:"px"`
}

// FillCheckResult - решение по входящему fill
type FillCheckResult struct {
	Allowed      bool          `json:"allowed"`
	OverfillQty  float64       `json:"overfill_qty"`
	Reason       string        `json:"reason,omitempty"`
	AdjustedFill *AdjustedFill `json:"adjusted_fill,omitempty"`
}

// FillValidation - результат проверки принадлежности fill ордеру
type FillValidation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ExpectedPosition - позиция, восстановленная из fills ордера
type ExpectedPosition struct {
	TotalQty float64 `json:"total_qty"`
	AvgPx    float64 `json:"avg_px"`
}

// OverfillStats - статистика защиты
type OverfillStats struct {
	TrackedOrders     int     `json:"tracked_orders"`
	TotalFills        int64   `json:"total_fills"`
	DuplicateFills    int64   `json:"duplicate_fills"`
	ChecksPerformed   int64   `json:"checks_performed"`
	UnknownOrders     int64   `json:"unknown_orders"`
	OverfillsDetected int64   `json:"overfills_detected"`
	OverfillsAllowed  int64   `json:"overfills_allowed"`
	OverfillsAdjusted int64   `json:"overfills_adjusted"`
	OverfillsRejected int64   `json:"overfills_rejected"`
	TotalOverfillQty  float64 `json:"total_overfill_qty"`
}

// OverfillProtection не даёт учёту принять больше объёма, чем разрешил ордер,
// и не даёт применить один и тот же fill дважды.
//
// Все решения синхронные. Побочный эффект проверки - только запись в журнал
// (и опциональный алерт). Повторы - ответственность вызывающего.
type OverfillProtection struct {
	mu sync.RWMutex

	config    OverfillConfig
	orders    map[string]*models.OrderState
	fills     map[string][]*models.FillEvent // orderID -> fills
	seenFills map[string]string              // fillID -> orderID
	history   []*models.OverfillRecord
	stats     OverfillStats

	notificationChan chan<- *models.Notification
	onOverfill       func(*models.OverfillRecord)
	onFill           func(*models.FillEvent)

	logger *zap.Logger
	now    func() time.Time
}

// NewOverfillProtection создаёт защиту от overfill
func NewOverfillProtection(cfg OverfillConfig, notificationChan chan<- *models.Notification, logger *zap.Logger) *OverfillProtection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverfillProtection{
		config:           cfg,
		orders:           make(map[string]*models.OrderState),
		fills:            make(map[string][]*models.FillEvent),
		seenFills:        make(map[string]string),
		history:          make([]*models.OverfillRecord, 0, 64),
		notificationChan: notificationChan,
		logger:           logger.With(utils.Component("overfill")),
		now:              time.Now,
	}
}

// SetCallbacks устанавливает обработчики записанных overfill и применённых fill.
// Вызываются вне блокировки.
func (op *OverfillProtection) SetCallbacks(onOverfill func(*models.OverfillRecord), onFill func(*models.FillEvent)) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.onOverfill = onOverfill
	op.onFill = onFill
}

// RegisterOrder начинает отслеживание ордера
func (op *OverfillProtection) RegisterOrder(order *models.OrderState) error {
	if order == nil || order.OrderID == "" {
		return ErrInvalidOrder
	}
	if order.OrderQty <= 0 {
		return fmt.Errorf("%w: order qty must be positive", ErrInvalidOrder)
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if _, exists := op.orders[order.OrderID]; exists {
		return ErrOrderAlreadyRegistered
	}

	o := *order
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = op.now()
	}
	op.orders[o.OrderID] = &o
	op.fills[o.OrderID] = make([]*models.FillEvent, 0, 4)

	UpdateTrackedOrders(len(op.orders))
	op.logger.Debug("order registered",
		utils.OrderID(o.OrderID),
		utils.Symbol(o.Symbol),
		utils.Side(o.Side),
		utils.Quantity(o.OrderQty),
	)
	return nil
}

// CheckFill решает, можно ли применить fill указанного объёма к ордеру.
//
// remaining = OrderQty - FilledQty, overfill = fillQty - remaining,
// допуск = OrderQty * TolerancePercent / 100.
func (op *OverfillProtection) CheckFill(orderID string, fillQty, fillPx float64) FillCheckResult {
	op.mu.Lock()

	op.stats.ChecksPerformed++

	order, ok := op.orders[orderID]
	if !ok {
		op.stats.UnknownOrders++
		op.mu.Unlock()
		RecordFillCheck("unknown_order")
		op.logger.Warn("fill check for unknown order", utils.OrderID(orderID), utils.Quantity(fillQty))
		return FillCheckResult{
			Allowed:     false,
			OverfillQty: fillQty,
			Reason:      "unknown order",
		}
	}

	remaining := order.RemainingQty()
	overfill := fillQty - remaining
	toleranceQty := order.OrderQty * op.config.TolerancePercent / 100

	if overfill <= toleranceQty {
		op.mu.Unlock()
		RecordFillCheck("allowed")
		return FillCheckResult{Allowed: true, OverfillQty: 0}
	}

	op.stats.OverfillsDetected++
	op.stats.TotalOverfillQty += overfill

	var result FillCheckResult
	var handled models.OverfillAction

	switch {
	case op.config.AllowOverfills:
		handled = models.OverfillAllowed
		op.stats.OverfillsAllowed++
		result = FillCheckResult{
			Allowed:     true,
			OverfillQty: overfill,
			Reason:      fmt.Sprintf("overfill of %.8g allowed by configuration", overfill),
		}
	case op.config.AutoAdjust && remaining > 0:
		handled = models.OverfillAdjusted
		op.stats.OverfillsAdjusted++
		result = FillCheckResult{
			Allowed:      true,
			OverfillQty:  overfill,
			Reason:       fmt.Sprintf("fill adjusted from %.8g to remaining %.8g", fillQty, remaining),
			AdjustedFill: &AdjustedFill{Qty: remaining, Px: fillPx},
		}
	default:
		handled = models.OverfillRejected
		op.stats.OverfillsRejected++
		reason := fmt.Sprintf("overfill of %.8g exceeds tolerance %.8g", overfill, toleranceQty)
		if remaining <= 0 {
			reason = "order has no remaining quantity"
		}
		result = FillCheckResult{
			Allowed:     false,
			OverfillQty: overfill,
			Reason:      reason,
		}
	}

	record := &models.OverfillRecord{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		OverfillQty: overfill,
		ExpectedQty: remaining,
		ReceivedQty: fillQty,
		Timestamp:   op.now(),
		Handled:     handled,
	}
	op.appendHistory(record)

	alert := op.config.AlertOnOverfill
	onOverfill := op.onOverfill
	symbol := order.Symbol
	op.mu.Unlock()

	RecordFillCheck(strings.ToLower(string(handled)))
	RecordOverfill(string(handled), overfill)

	op.logger.Warn("overfill detected",
		utils.OrderID(orderID),
		utils.Symbol(symbol),
		zap.Float64("overfill_qty", overfill),
		zap.Float64("remaining", remaining),
		zap.String("handled", string(handled)),
	)

	if alert {
		severity := models.SeverityWarn
		if handled == models.OverfillRejected {
			severity = models.SeverityError
		}
		tryEnqueueNotification(op.notificationChan, newNotification(
			record.Timestamp,
			models.NotificationTypeOverfill,
			severity,
			"overfill",
			fmt.Sprintf("Overfill on order %s (%s): received %.8g, remaining %.8g, %s",
				orderID, symbol, fillQty, remaining, handled),
			map[string]interface{}{
				"order_id":     orderID,
				"symbol":       symbol,
				"overfill_qty": overfill,
				"expected_qty": remaining,
				"received_qty": fillQty,
				"handled":      string(handled),
			},
		))
	}

	if onOverfill != nil {
		rec := *record
		onOverfill(&rec)
	}

	return result
}

// appendHistory добавляет запись в кольцевой журнал (под блокировкой)
func (op *OverfillProtection) appendHistory(record *models.OverfillRecord) {
	op.history = append(op.history, record)
	if len(op.history) > maxOverfillHistory {
		// Сдвигаем, чтобы не держать старый backing array бесконечно
		trimmed := make([]*models.OverfillRecord, maxOverfillHistory)
		copy(trimmed, op.history[len(op.history)-maxOverfillHistory:])
		op.history = trimmed
	}
}

// RecordFill применяет fill к ордеру. Идемпотентно по FillID:
// повторный fill логируется и игнорируется. Возвращает true, если fill применён.
func (op *OverfillProtection) RecordFill(fill *models.FillEvent) bool {
	if fill == nil || fill.FillID == "" {
		return false
	}

	op.mu.Lock()

	if _, seen := op.seenFills[fill.FillID]; seen {
		op.stats.DuplicateFills++
		op.mu.Unlock()
		RecordFillRecorded(false)
		op.logger.Info("duplicate fill ignored", utils.FillID(fill.FillID), utils.OrderID(fill.OrderID))
		return false
	}

	order, ok := op.orders[fill.OrderID]
	if !ok {
		op.mu.Unlock()
		op.logger.Warn("fill for unknown order", utils.FillID(fill.FillID), utils.OrderID(fill.OrderID))
		return false
	}

	f := *fill
	if f.Timestamp.IsZero() {
		f.Timestamp = op.now()
	}
	op.fills[order.OrderID] = append(op.fills[order.OrderID], &f)
	op.seenFills[f.FillID] = order.OrderID
	op.stats.TotalFills++

	prevFilled := order.FilledQty
	order.FilledQty += f.FillQty
	if order.FilledQty > 0 {
		order.AvgPx = (order.AvgPx*prevFilled + f.FillQty*f.FillPx) / order.FilledQty
	}

	if order.FilledQty >= order.OrderQty {
		order.Status = models.OrderStatusFilled
	} else if order.FilledQty > 0 {
		order.Status = models.OrderStatusOpen
	}

	onFill := op.onFill
	status := order.Status
	op.mu.Unlock()

	RecordFillRecorded(true)
	op.logger.Debug("fill recorded",
		utils.FillID(f.FillID),
		utils.OrderID(f.OrderID),
		utils.Quantity(f.FillQty),
		utils.Price(f.FillPx),
		utils.State(string(status)),
	)

	if onFill != nil {
		cp := f
		onFill(&cp)
	}
	return true
}

// IsDuplicateFill проверяет, применялся ли уже fill с таким ID
func (op *OverfillProtection) IsDuplicateFill(fillID string) bool {
	op.mu.RLock()
	defer op.mu.RUnlock()
	_, seen := op.seenFills[fillID]
	return seen
}

// ValidateFillForOrder проверяет, что fill действительно относится к ордеру
func (op *OverfillProtection) ValidateFillForOrder(fill *models.FillEvent, orderID string) FillValidation {
	if fill == nil {
		return FillValidation{Valid: false, Reason: "fill is nil"}
	}

	op.mu.RLock()
	defer op.mu.RUnlock()

	order, ok := op.orders[orderID]
	if !ok {
		return FillValidation{Valid: false, Reason: "order not found"}
	}

	if fill.OrderID != order.OrderID {
		return FillValidation{Valid: false, Reason: fmt.Sprintf("order id mismatch: fill %s, order %s", fill.OrderID, order.OrderID)}
	}
	if fill.VenueOrderID != "" && order.VenueOrderID != "" && fill.VenueOrderID != order.VenueOrderID {
		return FillValidation{Valid: false, Reason: fmt.Sprintf("venue order id mismatch: fill %s, order %s", fill.VenueOrderID, order.VenueOrderID)}
	}
	if !strings.EqualFold(fill.Symbol, order.Symbol) {
		return FillValidation{Valid: false, Reason: fmt.Sprintf("symbol mismatch: fill %s, order %s", fill.Symbol, order.Symbol)}
	}
	if !strings.EqualFold(fill.Side, order.Side) {
		return FillValidation{Valid: false, Reason: fmt.Sprintf("side mismatch: fill %s, order %s", fill.Side, order.Side)}
	}

	return FillValidation{Valid: true}
}

// CalculateExpectedPosition воспроизводит fills ордера в порядке времени
func (op *OverfillProtection) CalculateExpectedPosition(orderID string) (ExpectedPosition, bool) {
	op.mu.RLock()
	fills, ok := op.fills[orderID]
	if !ok {
		op.mu.RUnlock()
		return ExpectedPosition{}, false
	}
	sorted := make([]*models.FillEvent, len(fills))
	copy(sorted, fills)
	op.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var pos ExpectedPosition
	var notional float64
	for _, f := range sorted {
		pos.TotalQty += f.FillQty
		notional += f.FillQty * f.FillPx
	}
	if pos.TotalQty > 0 {
		pos.AvgPx = notional / pos.TotalQty
	}
	return pos, true
}

// GetOrder возвращает копию состояния ордера
func (op *OverfillProtection) GetOrder(orderID string) (*models.OrderState, bool) {
	op.mu.RLock()
	defer op.mu.RUnlock()

	order, ok := op.orders[orderID]
	if !ok {
		return nil, false
	}
	cp := *order
	return &cp, true
}

// GetOrders возвращает копии всех отслеживаемых ордеров, старые первыми
func (op *OverfillProtection) GetOrders() []*models.OrderState {
	op.mu.RLock()
	result := make([]*models.OrderState, 0, len(op.orders))
	for _, o := range op.orders {
		cp := *o
		result = append(result, &cp)
	}
	op.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// GetOrderFills возвращает копии fills ордера
func (op *OverfillProtection) GetOrderFills(orderID string) []*models.FillEvent {
	op.mu.RLock()
	defer op.mu.RUnlock()

	fills := op.fills[orderID]
	result := make([]*models.FillEvent, 0, len(fills))
	for _, f := range fills {
		cp := *f
		result = append(result, &cp)
	}
	return result
}

// RemoveOrder прекращает отслеживание ордера вместе с его fills
func (op *OverfillProtection) RemoveOrder(orderID string) bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	if _, ok := op.orders[orderID]; !ok {
		return false
	}
	op.removeOrderLocked(orderID)
	UpdateTrackedOrders(len(op.orders))
	return true
}

func (op *OverfillProtection) removeOrderLocked(orderID string) {
	for _, f := range op.fills[orderID] {
		delete(op.seenFills, f.FillID)
	}
	delete(op.fills, orderID)
	delete(op.orders, orderID)
}

// GetOverfillHistory возвращает последние limit записей (limit <= 0 - все), старые первыми
func (op *OverfillProtection) GetOverfillHistory(limit int) []*models.OverfillRecord {
	op.mu.RLock()
	defer op.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(op.history) {
		start = len(op.history) - limit
	}
	result := make([]*models.OverfillRecord, 0, len(op.history)-start)
	for _, r := range op.history[start:] {
		cp := *r
		result = append(result, &cp)
	}
	return result
}

// GetStatistics возвращает снимок статистики
func (op *OverfillProtection) GetStatistics() OverfillStats {
	op.mu.RLock()
	defer op.mu.RUnlock()

	stats := op.stats
	stats.TrackedOrders = len(op.orders)
	return stats
}

// Clear удаляет исполненные ордера старше maxAge. Возвращает число удалённых.
func (op *OverfillProtection) Clear(maxAge time.Duration) int {
	op.mu.Lock()
	defer op.mu.Unlock()

	cutoff := op.now().Add(-maxAge)
	removed := 0
	for id, o := range op.orders {
		if o.Status == models.OrderStatusFilled && o.Timestamp.Before(cutoff) {
			op.removeOrderLocked(id)
			removed++
		}
	}

	if removed > 0 {
		UpdateTrackedOrders(len(op.orders))
		op.logger.Info("filled orders purged", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed
}

// Reset очищает всё состояние, включая журнал и статистику
func (op *OverfillProtection) Reset() {
	op.mu.Lock()
	defer op.mu.Unlock()

	op.orders = make(map[string]*models.OrderState)
	op.fills = make(map[string][]*models.FillEvent)
	op.seenFills = make(map[string]string)
	op.history = make([]*models.OverfillRecord, 0, 64)
	op.stats = OverfillStats{}
	UpdateTrackedOrders(0)
}

// UpdateConfig заменяет конфигурацию
func (op *OverfillProtection) UpdateConfig(cfg OverfillConfig) {
	op.mu.Lock()
	op.config = cfg
	op.mu.Unlock()
	op.logger.Info("overfill config updated",
		zap.Bool("allow_overfills", cfg.AllowOverfills),
		zap.Float64("tolerance_percent", cfg.TolerancePercent),
		zap.Bool("auto_adjust", cfg.AutoAdjust),
	)
}

// GetConfig возвращает текущую конфигурацию
func (op *OverfillProtection) GetConfig() OverfillConfig {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.config
}
