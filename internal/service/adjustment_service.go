package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/pkg/retry"
	"perpguard/pkg/utils"
)

const (
	// maxFillsPerPosition - сколько последних fill хранится у позиции
	maxFillsPerPosition = 500

	// flatEpsilon - остаток меньше считается закрытой позицией
	flatEpsilon = 1e-12
)

// AdjustmentService ведёт локальную книгу позиций.
//
// Книга строится из исполнений (ApplyFill, подключается к OverfillProtection как onFill)
// и служит локальным источником для сверки. Корректировки сверки применяются к книге,
// записываются в журнал position_adjustments и публикуются в шину алертов.
type AdjustmentService struct {
	mu        sync.RWMutex
	positions map[string]*models.LocalPosition

	repo             ReconciliationRepositoryInterface
	notificationChan chan<- *models.Notification
	persistRetry     retry.Config

	now    func() time.Time
	logger *zap.Logger
}

// NewAdjustmentService создаёт книгу позиций. repo == nil - без журнала.
func NewAdjustmentService(repo ReconciliationRepositoryInterface, notificationChan chan<- *models.Notification, logger *zap.Logger) *AdjustmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := retry.PersistenceConfig()
	cfg.RetryIf = retryPersistence
	return &AdjustmentService{
		positions:        make(map[string]*models.LocalPosition),
		repo:             repo,
		notificationChan: notificationChan,
		persistRetry:     cfg,
		now:              time.Now,
		logger:           logger.With(utils.Component("position_book")),
	}
}

// ApplyFill применяет исполнение к позиции символа.
// Рост позиции пересчитывает среднюю цену, сокращение её не меняет,
// переход через ноль начинает новую позицию по цене fill.
func (s *AdjustmentService) ApplyFill(fill *models.FillEvent) {
	if fill == nil || fill.Symbol == "" || fill.FillQty <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyFillLocked(fill)
}

func (s *AdjustmentService) applyFillLocked(fill *models.FillEvent) {
	pos, ok := s.positions[fill.Symbol]
	if !ok {
		pos = &models.LocalPosition{Symbol: fill.Symbol, Side: models.PositionLong}
		s.positions[fill.Symbol] = pos
	}

	current := signedPosition(pos)
	delta := fill.FillQty
	if strings.EqualFold(fill.Side, models.SideSell) {
		delta = -delta
	}
	next := current + delta

	switch {
	case math.Abs(next) < flatEpsilon:
		delete(s.positions, fill.Symbol)
		return
	case current == 0 || (current > 0) != (next > 0):
		// новая позиция или переворот
		pos.Price = fill.FillPx
	case math.Abs(next) > math.Abs(current):
		pos.Price = (pos.Price*math.Abs(current) + fill.FillPx*fill.FillQty) / math.Abs(next)
	}

	pos.Quantity = math.Abs(next)
	pos.Side = models.PositionLong
	if next < 0 {
		pos.Side = models.PositionShort
	}

	cp := *fill
	pos.Fills = append(pos.Fills, &cp)
	if len(pos.Fills) > maxFillsPerPosition {
		pos.Fills = append([]*models.FillEvent(nil), pos.Fills[len(pos.Fills)-maxFillsPerPosition:]...)
	}
}

func signedPosition(pos *models.LocalPosition) float64 {
	if strings.EqualFold(pos.Side, models.PositionShort) {
		return -pos.Quantity
	}
	return pos.Quantity
}

// GetLocalPositions возвращает копии открытых позиций, отсортированные по символу
func (s *AdjustmentService) GetLocalPositions(ctx context.Context) ([]*models.LocalPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.LocalPosition, 0, len(s.positions))
	for _, pos := range s.positions {
		result = append(result, copyPosition(pos))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// GetPosition возвращает копию позиции символа
func (s *AdjustmentService) GetPosition(symbol string) (*models.LocalPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return nil, false
	}
	return copyPosition(pos), true
}

func copyPosition(pos *models.LocalPosition) *models.LocalPosition {
	cp := *pos
	cp.Fills = append([]*models.FillEvent(nil), pos.Fills...)
	return &cp
}

// AddFill добавляет синтетический fill на величину расхождения (Side - BUY/SELL)
func (s *AdjustmentService) AddFill(ctx context.Context, symbol string, details models.AdjustmentDetails) error {
	if details.Quantity <= 0 {
		return fmt.Errorf("%w: add fill %s: quantity must be positive, got %v", bot.ErrInvalidAdjustment, symbol, details.Quantity)
	}
	side := strings.ToUpper(details.Side)
	if side != models.SideBuy && side != models.SideSell {
		return fmt.Errorf("%w: add fill %s: invalid side %q", bot.ErrInvalidAdjustment, symbol, details.Side)
	}

	fill := &models.FillEvent{
		FillID:    "recon-" + uuid.NewString(),
		OrderID:   "reconciliation",
		Symbol:    symbol,
		Side:      side,
		FillQty:   details.Quantity,
		FillPx:    details.Price,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.applyFillLocked(fill)
	s.mu.Unlock()

	return s.record(ctx, symbol, models.ActionAddFill, details)
}

// AdjustPosition исправляет цену входа (сторона и объём уже совпали)
func (s *AdjustmentService) AdjustPosition(ctx context.Context, symbol string, details models.AdjustmentDetails) error {
	s.mu.Lock()
	pos, ok := s.positions[symbol]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: adjust position %s: no local position", bot.ErrInvalidAdjustment, symbol)
	}
	if details.Price > 0 {
		pos.Price = details.Price
	}
	s.mu.Unlock()

	return s.record(ctx, symbol, models.ActionAdjustPosition, details)
}

// SyncPosition заменяет локальную позицию данными биржи
func (s *AdjustmentService) SyncPosition(ctx context.Context, symbol string, details models.AdjustmentDetails) error {
	side := strings.ToUpper(details.Side)
	if details.Quantity > flatEpsilon && side != models.PositionLong && side != models.PositionShort {
		return fmt.Errorf("%w: sync position %s: invalid side %q", bot.ErrInvalidAdjustment, symbol, details.Side)
	}

	s.mu.Lock()
	if details.Quantity <= flatEpsilon {
		delete(s.positions, symbol)
	} else {
		pos, ok := s.positions[symbol]
		if !ok {
			pos = &models.LocalPosition{Symbol: symbol}
			s.positions[symbol] = pos
		}
		pos.Side = side
		pos.Quantity = details.Quantity
		pos.Price = details.Price
	}
	s.mu.Unlock()

	return s.record(ctx, symbol, models.ActionSyncPosition, details)
}

// ClosePosition удаляет локальную позицию, которой нет на бирже
func (s *AdjustmentService) ClosePosition(ctx context.Context, symbol string, details models.AdjustmentDetails) error {
	s.mu.Lock()
	delete(s.positions, symbol)
	s.mu.Unlock()

	return s.record(ctx, symbol, models.ActionClosePosition, details)
}

// record пишет корректировку в журнал и шину. Книга к этому моменту уже изменена,
// поэтому ошибка журнала только логируется.
func (s *AdjustmentService) record(ctx context.Context, symbol string, action models.AdjustmentAction, details models.AdjustmentDetails) error {
	rec := &models.AdjustmentRecord{
		Symbol:    symbol,
		Action:    action,
		Side:      details.Side,
		Quantity:  details.Quantity,
		Price:     details.Price,
		Reason:    details.Reason,
		CreatedAt: s.now(),
	}

	if s.repo != nil {
		err := retry.Do(ctx, func() error {
			return s.repo.SaveAdjustment(ctx, rec)
		}, s.persistRetry)
		if err != nil {
			s.logger.Error("failed to persist adjustment",
				utils.Symbol(symbol),
				zap.String("action", string(action)),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("position adjusted",
		utils.Symbol(symbol),
		zap.String("action", string(action)),
		utils.Side(details.Side),
		utils.Quantity(details.Quantity),
		utils.Price(details.Price),
	)

	notif := &models.Notification{
		Timestamp: rec.CreatedAt,
		Type:      models.NotificationTypeAdjustment,
		Severity:  models.SeverityInfo,
		Source:    "position_book",
		Message:   fmt.Sprintf("%s applied to %s", action, symbol),
		Meta: map[string]interface{}{
			"symbol":   symbol,
			"action":   string(action),
			"side":     details.Side,
			"quantity": details.Quantity,
			"price":    details.Price,
			"reason":   details.Reason,
		},
	}
	if s.notificationChan != nil {
		select {
		case s.notificationChan <- notif:
		default:
			bot.RecordBufferOverflow("notifications")
			s.logger.Warn("notification channel full, adjustment alert dropped", utils.Symbol(symbol))
		}
	}
	return nil
}
