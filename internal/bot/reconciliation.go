package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perpguard/internal/exchange"
	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

const (
	// maxReconciliationHistory - сколько последних отчётов храним
	maxReconciliationHistory = 100

	// syncMultiplier - во сколько раз разница должна превысить MinDifference,
	// чтобы вместо синтетического fill потребовалась полная синхронизация
	syncMultiplier = 10

	// qtyEpsilon - всё, что меньше, считаем нулевой позицией при симуляции
	qtyEpsilon = 1e-12
)

var (
	ErrNoPositionMutator = errors.New("position mutator is not configured")
	ErrNoPositionSource  = errors.New("position sources are not configured")
	ErrUnknownAdjustment = errors.New("unknown adjustment action")

	// ErrInvalidAdjustment - исполнитель отклонил команду по её содержимому
	// (нет позиции, неверная сторона, объём). Это не сбой исполнителя.
	ErrInvalidAdjustment = errors.New("invalid adjustment")
)

// PositionMutator - внешний исполнитель корректирующих команд.
// Сверка только формирует команду, изменение позиции - его ответственность.
type PositionMutator interface {
	AddFill(ctx context.Context, symbol string, details models.AdjustmentDetails) error
	AdjustPosition(ctx context.Context, symbol string, details models.AdjustmentDetails) error
	SyncPosition(ctx context.Context, symbol string, details models.AdjustmentDetails) error
	ClosePosition(ctx context.Context, symbol string, details models.AdjustmentDetails) error
}

// LocalPositionSource отдаёт позиции, которые бот ведёт сам
type LocalPositionSource interface {
	GetLocalPositions(ctx context.Context) ([]*models.LocalPosition, error)
}

// ReconcilerConfig - настройки сверки
type ReconcilerConfig struct {
	TolerancePercent      float64 `json:"tolerance_percent"`
	AutoApply             bool    `json:"auto_apply"`
	AlertOnDiscrepancy    bool    `json:"alert_on_discrepancy"`
	MinDifference         float64 `json:"min_difference"`
	PriceTolerancePercent float64 `json:"price_tolerance_percent"` // 0 = цена не сверяется
}

// DefaultReconcilerConfig возвращает конфигурацию по умолчанию.
// AutoApply выключен: любые изменения позиции - только после подтверждения оператора.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		TolerancePercent:   0.01,
		AutoApply:          false,
		AlertOnDiscrepancy: true,
		MinDifference:      0.0001,
	}
}

// ReconcilerStats - накопительная статистика сверок
type ReconcilerStats struct {
	TotalRuns            int64            `json:"total_runs"`
	TotalPositions       int64            `json:"total_positions"`
	TotalMatched         int64            `json:"total_matched"`
	TotalDiscrepancies   int64            `json:"total_discrepancies"`
	GhostPositions       int64            `json:"ghost_positions"`
	AdjustmentsGenerated int64            `json:"adjustments_generated"`
	AdjustmentsApplied   int64            `json:"adjustments_applied"`
	AdjustmentsFailed    int64            `json:"adjustments_failed"`
	ByType               map[string]int64 `json:"by_type"`
	LastRunAt            *time.Time       `json:"last_run_at,omitempty"`
}

// SimulatedPosition - позиция, восстановленная из последовательности fills.
//
// ZeroCrossings = SignFlips + SideChanges. SignFlips считает смену знака
// количества (сброс базы стоимости), SideChanges - смену метки LONG/SHORT
// между соседними fills, где нулевая позиция считается LONG.
type SimulatedPosition struct {
	Quantity      float64 `json:"quantity"` // модуль, направление в Side
	AvgPrice      float64 `json:"avg_price"`
	Side          string  `json:"side"`
	ZeroCrossings int     `json:"zero_crossings"`
	SignFlips     int     `json:"sign_flips"`
	SideChanges   int     `json:"side_changes"`
}

// Reconciler находит (и по настройке исправляет) расхождения
// между локальными позициями и позициями биржи
type Reconciler struct {
	mu sync.RWMutex

	config  ReconcilerConfig
	history []*models.ReconciliationReport
	stats   ReconcilerStats

	mutator     PositionMutator
	localSource LocalPositionSource
	venue       exchange.Venue
	breakers    *CircuitBreakerManager

	notificationChan chan<- *models.Notification
	onReport         func(*models.ReconciliationReport)

	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler создаёт сервис сверки
func NewReconciler(cfg ReconcilerConfig, notificationChan chan<- *models.Notification, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		config:           cfg,
		history:          make([]*models.ReconciliationReport, 0, maxReconciliationHistory),
		stats:            ReconcilerStats{ByType: make(map[string]int64)},
		notificationChan: notificationChan,
		logger:           logger.With(utils.Component("reconciliation")),
		now:              time.Now,
	}
}

// SetMutator задаёт исполнителя корректировок
func (r *Reconciler) SetMutator(m PositionMutator) {
	r.mu.Lock()
	r.mutator = m
	r.mu.Unlock()
}

// SetSources задаёт источники позиций для Run
func (r *Reconciler) SetSources(local LocalPositionSource, venue exchange.Venue) {
	r.mu.Lock()
	r.localSource = local
	r.venue = venue
	r.mu.Unlock()
}

// SetBreakers включает защиту обращений к бирже и исполнителю через circuit breaker
func (r *Reconciler) SetBreakers(cbm *CircuitBreakerManager) {
	r.mu.Lock()
	r.breakers = cbm
	r.mu.Unlock()
}

// SetReportCallback задаёт обработчик готового отчёта (сохранение, трансляция)
func (r *Reconciler) SetReportCallback(fn func(*models.ReconciliationReport)) {
	r.mu.Lock()
	r.onReport = fn
	r.mu.Unlock()
}

// Run забирает позиции у источников и выполняет проход сверки
func (r *Reconciler) Run(ctx context.Context) (*models.ReconciliationReport, error) {
	r.mu.RLock()
	local, venue, breakers := r.localSource, r.venue, r.breakers
	r.mu.RUnlock()

	if local == nil || venue == nil {
		return nil, ErrNoPositionSource
	}

	localPositions, err := local.GetLocalPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get local positions: %w", err)
	}

	var venuePositions []*models.VenuePosition
	if breakers != nil {
		venuePositions, err = Call(ctx, breakers, BreakerVenueAPI, venue.GetOpenPositions)
	} else {
		venuePositions, err = venue.GetOpenPositions(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get venue positions: %w", err)
	}

	return r.ReconcilePositions(ctx, localPositions, venuePositions), nil
}

// Start запускает периодическую сверку до отмены ctx
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil {
					r.logger.Warn("scheduled reconciliation failed", zap.Error(err))
				}
			}
		}
	}()
}

// ReconcilePositions сверяет все локальные позиции с позициями биржи.
// Позиции биржи без локальной пары становятся GHOST_POSITION (только алерт).
func (r *Reconciler) ReconcilePositions(ctx context.Context, local []*models.LocalPosition, venue []*models.VenuePosition) *models.ReconciliationReport {
	started := time.Now()

	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()

	// В hedge-режиме биржа отдаёт две позиции на символ. Локальной позиции
	// сопоставляется нога той же стороны, остальные уходят в GHOST_POSITION.
	venueBySymbol := make(map[string][]*models.VenuePosition, len(venue))
	for _, vp := range venue {
		if vp == nil {
			continue
		}
		if len(venueBySymbol[vp.Symbol]) == 1 {
			r.logger.Warn("venue reported several positions for one symbol",
				utils.Symbol(vp.Symbol),
				zap.String("side", vp.Side),
			)
		}
		venueBySymbol[vp.Symbol] = append(venueBySymbol[vp.Symbol], vp)
	}

	report := &models.ReconciliationReport{
		ID:        uuid.NewString(),
		Timestamp: r.now(),
		Results:   make([]*models.ReconciliationResult, 0, len(local)+len(venue)),
	}

	matched := make(map[*models.VenuePosition]bool, len(venue))
	for _, lp := range local {
		if lp == nil {
			continue
		}
		vp := pickVenueLeg(venueBySymbol[lp.Symbol], lp.Side, matched)
		if vp != nil {
			matched[vp] = true
		}
		report.Results = append(report.Results, reconcile(cfg, lp, vp))
	}

	// Оставшиеся позиции биржи в исходном порядке
	for _, vp := range venue {
		if vp == nil || matched[vp] {
			continue
		}
		matched[vp] = true
		report.Results = append(report.Results, ghostResult(vp))
	}

	for _, res := range report.Results {
		if res.Matched {
			report.Matched++
		} else {
			report.Discrepancies++
		}
		if res.Adjustment != nil {
			report.Adjustments++
		}
	}
	report.TotalPositions = len(report.Results)

	for _, res := range report.Results {
		if res.Discrepancy == nil {
			continue
		}
		RecordDiscrepancy(string(res.Discrepancy.Type))
		r.logger.Warn("position discrepancy",
			utils.Symbol(res.Symbol),
			zap.String("type", string(res.Discrepancy.Type)),
			zap.Any("local", res.Discrepancy.LocalValue),
			zap.Any("venue", res.Discrepancy.VenueValue),
			zap.Float64("percent_diff", res.Discrepancy.PercentDiff),
		)
		if res.Adjustment != nil {
			RecordAdjustment(string(res.Adjustment.Action), "generated")
		}
		if cfg.AlertOnDiscrepancy {
			r.alertDiscrepancy(report.ID, res)
		}
	}

	if cfg.AutoApply {
		for _, res := range report.Results {
			if res.Adjustment == nil {
				continue
			}
			if err := r.ApplyAdjustment(ctx, res.Adjustment); err != nil {
				report.ApplyErrors = append(report.ApplyErrors,
					fmt.Sprintf("%s %s: %v", res.Adjustment.Action, res.Symbol, err))
				r.logger.Error("failed to apply adjustment",
					utils.Symbol(res.Symbol),
					zap.String("action", string(res.Adjustment.Action)),
					zap.Error(err),
				)
				continue
			}
			report.Applied++
		}
	}

	r.mu.Lock()
	r.history = append(r.history, report)
	if len(r.history) > maxReconciliationHistory {
		r.history = r.history[len(r.history)-maxReconciliationHistory:]
	}
	r.stats.TotalRuns++
	r.stats.TotalPositions += int64(report.TotalPositions)
	r.stats.TotalMatched += int64(report.Matched)
	r.stats.TotalDiscrepancies += int64(report.Discrepancies)
	r.stats.AdjustmentsGenerated += int64(report.Adjustments)
	r.stats.AdjustmentsApplied += int64(report.Applied)
	r.stats.AdjustmentsFailed += int64(len(report.ApplyErrors))
	for _, res := range report.Results {
		if res.Discrepancy == nil {
			continue
		}
		r.stats.ByType[string(res.Discrepancy.Type)]++
		if res.Discrepancy.Type == models.DiscrepancyGhostPosition {
			r.stats.GhostPositions++
		}
	}
	ts := report.Timestamp
	r.stats.LastRunAt = &ts
	onReport := r.onReport
	r.mu.Unlock()

	RecordReconciliation(float64(time.Since(started).Microseconds()) / 1000)
	r.logger.Info("reconciliation completed",
		utils.ReportID(report.ID),
		zap.Int("total", report.TotalPositions),
		zap.Int("matched", report.Matched),
		zap.Int("discrepancies", report.Discrepancies),
		zap.Int("adjustments", report.Adjustments),
		zap.Int("applied", report.Applied),
	)

	if onReport != nil {
		onReport(report)
	}
	return report
}

// ReconcilePosition сверяет одну локальную позицию с позицией биржи (nil - нет на бирже)
func (r *Reconciler) ReconcilePosition(local *models.LocalPosition, venue *models.VenuePosition) *models.ReconciliationResult {
	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()
	return reconcile(cfg, local, venue)
}

// reconcile - чистая функция сверки. Порядок проверок:
// отсутствие на бирже, количество, сторона, цена (если включена).
func reconcile(cfg ReconcilerConfig, local *models.LocalPosition, venue *models.VenuePosition) *models.ReconciliationResult {
	if local == nil {
		if venue == nil {
			return &models.ReconciliationResult{Matched: true}
		}
		return ghostResult(venue)
	}

	result := &models.ReconciliationResult{
		Symbol: local.Symbol,
		Local:  local,
		Venue:  venue,
	}

	// 1. Нет позиции на бирже
	if venue == nil {
		if math.Abs(local.Quantity) < cfg.MinDifference {
			result.Matched = true
			return result
		}
		result.Discrepancy = &models.Discrepancy{
			Type:        models.DiscrepancyMissingPosition,
			LocalValue:  local.Quantity,
			VenueValue:  0.0,
			Difference:  -local.Quantity,
			PercentDiff: 100,
		}
		result.Adjustment = &models.ReconciliationAdjustment{
			Action: models.ActionClosePosition,
			Symbol: local.Symbol,
			Details: models.AdjustmentDetails{
				Side:     local.Side,
				Quantity: math.Abs(local.Quantity),
				Price:    local.Price,
				Reason:   "position not found on venue",
			},
		}
		return result
	}

	// 2. Количество
	diff := venue.Quantity - local.Quantity
	absDiff := math.Abs(diff)
	tolerance := math.Max(math.Abs(local.Quantity)*cfg.TolerancePercent/100, cfg.MinDifference)
	if absDiff > tolerance {
		result.Discrepancy = &models.Discrepancy{
			Type:        models.DiscrepancyQuantity,
			LocalValue:  local.Quantity,
			VenueValue:  venue.Quantity,
			Difference:  diff,
			PercentDiff: percentDiff(absDiff, local.Quantity),
		}
		if absDiff > syncMultiplier*cfg.MinDifference {
			result.Adjustment = syncAdjustment(venue, fmt.Sprintf("quantity differs by %.8g", diff))
		} else {
			result.Adjustment = &models.ReconciliationAdjustment{
				Action: models.ActionAddFill,
				Symbol: local.Symbol,
				Details: models.AdjustmentDetails{
					Side:     fillSideForDelta(positionSide(local.Side, venue.Side), diff),
					Quantity: absDiff,
					Price:    venue.Price,
					Reason:   fmt.Sprintf("synthetic fill for gap %.8g", diff),
				},
			}
		}
		return result
	}

	// 3. Сторона: расхождение не допускается никогда
	if local.Quantity != 0 && venue.Quantity != 0 && !strings.EqualFold(local.Side, venue.Side) {
		result.Discrepancy = &models.Discrepancy{
			Type:        models.DiscrepancySide,
			LocalValue:  local.Side,
			VenueValue:  venue.Side,
			Difference:  diff,
			PercentDiff: 100,
		}
		result.Adjustment = syncAdjustment(venue, "side mismatch")
		return result
	}

	// 4. Цена входа
	if cfg.PriceTolerancePercent > 0 && local.Price > 0 {
		priceDiff := venue.Price - local.Price
		pct := math.Abs(priceDiff) / local.Price * 100
		if pct > cfg.PriceTolerancePercent {
			result.Discrepancy = &models.Discrepancy{
				Type:        models.DiscrepancyPrice,
				LocalValue:  local.Price,
				VenueValue:  venue.Price,
				Difference:  priceDiff,
				PercentDiff: pct,
			}
			result.Adjustment = &models.ReconciliationAdjustment{
				Action: models.ActionAdjustPosition,
				Symbol: local.Symbol,
				Details: models.AdjustmentDetails{
					Side:     venue.Side,
					Quantity: venue.Quantity,
					Price:    venue.Price,
					Reason:   fmt.Sprintf("entry price differs by %.4f%%", pct),
				},
			}
			return result
		}
	}

	result.Matched = true
	return result
}

// ghostResult - позиция есть на бирже, но не у бота. Корректировка не формируется.
func ghostResult(venue *models.VenuePosition) *models.ReconciliationResult {
	return &models.ReconciliationResult{
		Symbol:  venue.Symbol,
		Matched: false,
		Venue:   venue,
		Discrepancy: &models.Discrepancy{
			Type:        models.DiscrepancyGhostPosition,
			LocalValue:  0.0,
			VenueValue:  venue.Quantity,
			Difference:  venue.Quantity,
			PercentDiff: 100,
		},
	}
}

func syncAdjustment(venue *models.VenuePosition, reason string) *models.ReconciliationAdjustment {
	return &models.ReconciliationAdjustment{
		Action: models.ActionSyncPosition,
		Symbol: venue.Symbol,
		Details: models.AdjustmentDetails{
			Side:     venue.Side,
			Quantity: venue.Quantity,
			Price:    venue.Price,
			Reason:   reason,
		},
	}
}

func percentDiff(absDiff, base float64) float64 {
	if base == 0 {
		return 100
	}
	return absDiff / math.Abs(base) * 100
}

// positionSide выбирает направление позиции для синтетического fill
func positionSide(localSide, venueSide string) string {
	if localSide != "" {
		return strings.ToUpper(localSide)
	}
	return strings.ToUpper(venueSide)
}

// fillSideForDelta: для LONG рост позиции - покупка, для SHORT - продажа
func fillSideForDelta(side string, delta float64) string {
	increase := delta > 0
	if side == models.PositionShort {
		increase = !increase
	}
	if increase {
		return models.SideBuy
	}
	return models.SideSell
}

// alertDiscrepancy публикует алерт о расхождении (не блокируясь)
func (r *Reconciler) alertDiscrepancy(reportID string, res *models.ReconciliationResult) {
	d := res.Discrepancy
	notifType := models.NotificationTypeDiscrepancy
	message := fmt.Sprintf("%s discrepancy on %s: local %v, venue %v (%.4f%%)",
		d.Type, res.Symbol, d.LocalValue, d.VenueValue, d.PercentDiff)
	if d.Type == models.DiscrepancyGhostPosition {
		notifType = models.NotificationTypeGhostPosition
		message = fmt.Sprintf("Ghost position on %s: venue holds %v with no local record", res.Symbol, d.VenueValue)
	}

	meta := map[string]interface{}{
		"report_id":    reportID,
		"symbol":       res.Symbol,
		"type":         string(d.Type),
		"local":        d.LocalValue,
		"venue":        d.VenueValue,
		"difference":   d.Difference,
		"percent_diff": d.PercentDiff,
	}
	if res.Adjustment != nil {
		meta["action"] = string(res.Adjustment.Action)
	}

	tryEnqueueNotification(r.notificationChan, newNotification(
		r.now(), notifType, models.SeverityWarn, "reconciliation", message, meta,
	))
}

// pickVenueLeg выбирает ещё не сопоставленную позицию биржи:
// сначала той же стороны, иначе первую свободную
func pickVenueLeg(legs []*models.VenuePosition, side string, matched map[*models.VenuePosition]bool) *models.VenuePosition {
	var first *models.VenuePosition
	for _, vp := range legs {
		if matched[vp] {
			continue
		}
		if vp.Side == side {
			return vp
		}
		if first == nil {
			first = vp
		}
	}
	return first
}

// ApplyAdjustment передаёт команду исполнителю по виду действия
func (r *Reconciler) ApplyAdjustment(ctx context.Context, adj *models.ReconciliationAdjustment) error {
	if adj == nil {
		return fmt.Errorf("%w: nil adjustment", ErrUnknownAdjustment)
	}

	r.mu.RLock()
	mutator, breakers := r.mutator, r.breakers
	r.mu.RUnlock()

	if mutator == nil {
		return ErrNoPositionMutator
	}

	var op func(context.Context) error
	switch adj.Action {
	case models.ActionAddFill:
		op = func(ctx context.Context) error { return r.addFill(ctx, mutator, adj) }
	case models.ActionAdjustPosition:
		op = func(ctx context.Context) error { return r.adjustPosition(ctx, mutator, adj) }
	case models.ActionSyncPosition:
		op = func(ctx context.Context) error { return r.syncPosition(ctx, mutator, adj) }
	case models.ActionClosePosition:
		op = func(ctx context.Context) error { return r.closePosition(ctx, mutator, adj) }
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAdjustment, adj.Action)
	}

	var err error
	if breakers != nil {
		// Отклонённая команда не должна открывать position_recovery:
		// breaker видит только сбои самого исполнителя
		var rejected error
		err = breakers.Execute(ctx, BreakerPositionRecovery, func(ctx context.Context) error {
			opErr := op(ctx)
			if errors.Is(opErr, ErrInvalidAdjustment) {
				rejected = opErr
				return nil
			}
			return opErr
		}, nil)
		if err == nil {
			err = rejected
		}
	} else {
		err = op(ctx)
	}

	if errors.Is(err, ErrInvalidAdjustment) {
		RecordAdjustment(string(adj.Action), "rejected")
		return err
	}

	if err != nil {
		RecordAdjustment(string(adj.Action), "failed")
		return err
	}
	RecordAdjustment(string(adj.Action), "applied")
	r.logger.Info("adjustment applied",
		utils.Symbol(adj.Symbol),
		zap.String("action", string(adj.Action)),
		utils.Quantity(adj.Details.Quantity),
		utils.Price(adj.Details.Price),
	)
	return nil
}

func (r *Reconciler) addFill(ctx context.Context, m PositionMutator, adj *models.ReconciliationAdjustment) error {
	return m.AddFill(ctx, adj.Symbol, adj.Details)
}

func (r *Reconciler) adjustPosition(ctx context.Context, m PositionMutator, adj *models.ReconciliationAdjustment) error {
	return m.AdjustPosition(ctx, adj.Symbol, adj.Details)
}

func (r *Reconciler) syncPosition(ctx context.Context, m PositionMutator, adj *models.ReconciliationAdjustment) error {
	return m.SyncPosition(ctx, adj.Symbol, adj.Details)
}

func (r *Reconciler) closePosition(ctx context.Context, m PositionMutator, adj *models.ReconciliationAdjustment) error {
	return m.ClosePosition(ctx, adj.Symbol, adj.Details)
}

// SimulatePositionFromFills восстанавливает позицию из fills
func (r *Reconciler) SimulatePositionFromFills(fills []*models.FillEvent) SimulatedPosition {
	return SimulatePositionFromFills(fills)
}

// DetectZeroCrossings возвращает моменты смены знака позиции
func (r *Reconciler) DetectZeroCrossings(fills []*models.FillEvent) []time.Time {
	return DetectZeroCrossings(fills)
}

// SimulatePositionFromFills воспроизводит fills в порядке времени (BUY = +qty, SELL = -qty).
// Пока знак не меняется, стоимость растёт или пропорционально уменьшается;
// при смене знака база стоимости сбрасывается на цену fill, который её перевернул.
func SimulatePositionFromFills(fills []*models.FillEvent) SimulatedPosition {
	var qty, value float64
	var res SimulatedPosition
	prevSide := ""

	for _, f := range sortedFills(fills) {
		signed := signedQty(f)
		newQty := qty + signed
		if math.Abs(newQty) < qtyEpsilon {
			newQty = 0
		}

		switch {
		case qty == 0 || sign(qty) == sign(signed):
			value += math.Abs(signed) * f.FillPx
		case newQty == 0 || sign(newQty) == sign(qty):
			value *= math.Abs(newQty) / math.Abs(qty)
		default:
			value = math.Abs(newQty) * f.FillPx
			res.SignFlips++
		}
		qty = newQty

		side := models.PositionLong
		if qty < 0 {
			side = models.PositionShort
		}
		if prevSide != "" && side != prevSide {
			res.SideChanges++
		}
		prevSide = side
	}

	res.Quantity = math.Abs(qty)
	res.Side = models.PositionLong
	if qty < 0 {
		res.Side = models.PositionShort
	}
	if qty != 0 {
		res.AvgPrice = value / math.Abs(qty)
	}
	res.ZeroCrossings = res.SignFlips + res.SideChanges
	return res
}

// DetectZeroCrossings: fill, приводящий позицию ровно в ноль, пересечением не считается
func DetectZeroCrossings(fills []*models.FillEvent) []time.Time {
	var qty float64
	crossings := make([]time.Time, 0)

	for _, f := range sortedFills(fills) {
		newQty := qty + signedQty(f)
		if math.Abs(newQty) < qtyEpsilon {
			newQty = 0
		}
		if qty != 0 && newQty != 0 && sign(qty) != sign(newQty) {
			crossings = append(crossings, f.Timestamp)
		}
		qty = newQty
	}
	return crossings
}

func sortedFills(fills []*models.FillEvent) []*models.FillEvent {
	sorted := make([]*models.FillEvent, 0, len(fills))
	for _, f := range fills {
		if f != nil {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func signedQty(f *models.FillEvent) float64 {
	if strings.EqualFold(f.Side, models.SideSell) {
		return -f.FillQty
	}
	return f.FillQty
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// GetHistory возвращает последние limit отчётов (limit <= 0 - все), старые первыми
func (r *Reconciler) GetHistory(limit int) []*models.ReconciliationReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(r.history) {
		start = len(r.history) - limit
	}
	result := make([]*models.ReconciliationReport, len(r.history)-start)
	copy(result, r.history[start:])
	return result
}

// GetStatistics возвращает снимок статистики
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.stats
	stats.ByType = make(map[string]int64, len(r.stats.ByType))
	for k, v := range r.stats.ByType {
		stats.ByType[k] = v
	}
	return stats
}

// UpdateConfig заменяет конфигурацию
func (r *Reconciler) UpdateConfig(cfg ReconcilerConfig) {
	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()
	r.logger.Info("reconciliation config updated",
		zap.Float64("tolerance_percent", cfg.TolerancePercent),
		zap.Bool("auto_apply", cfg.AutoApply),
		zap.Float64("min_difference", cfg.MinDifference),
	)
}

// GetConfig возвращает текущую конфигурацию
func (r *Reconciler) GetConfig() ReconcilerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// ClearHistory очищает историю отчётов
func (r *Reconciler) ClearHistory() {
	r.mu.Lock()
	r.history = make([]*models.ReconciliationReport, 0, maxReconciliationHistory)
	r.mu.Unlock()
}
