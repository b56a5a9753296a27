package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/pkg/retry"
	"perpguard/pkg/utils"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification) error
}

// DeliverFunc доставляет уведомление одному подписчику
type DeliverFunc func(ctx context.Context, notif *models.Notification) error

// subscriberBreakerPrefix - breaker подписчика называется notify:<имя>
const subscriberBreakerPrefix = "notify:"

type subscriber struct {
	name    string
	breaker string
	deliver DeliverFunc
}

// NotificationService - потребитель шины алертов ядра.
//
// Каждое уведомление сохраняется в журнал (через breaker database с retry),
// затем доставляется подписчикам. Доставка каждому подписчику идёт через
// собственный breaker notify:<имя>, поэтому зависший подписчик не мешает остальным.
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	breakers         *bot.CircuitBreakerManager

	mu          sync.RWMutex
	subscribers []subscriber

	persistRetry retry.Config
	logger       *zap.Logger
}

// NewNotificationService создает новый экземпляр NotificationService.
// breakers == nil - запись и доставка без защиты.
func NewNotificationService(
	notificationRepo NotificationRepositoryInterface,
	breakers *bot.CircuitBreakerManager,
	logger *zap.Logger,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := retry.PersistenceConfig()
	cfg.RetryIf = retryPersistence
	return &NotificationService{
		notificationRepo: notificationRepo,
		breakers:         breakers,
		persistRetry:     cfg,
		logger:           logger.With(utils.Component("notification_service")),
	}
}

// retryPersistence не повторяет отмену контекста и отказ открытого breaker
func retryPersistence(err error) bool {
	return retry.RetryIfNotContext(err) && !errors.Is(err, bot.ErrBreakerOpen)
}

// SetWebSocketHub подписывает WebSocket hub на уведомления.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, breakers, logger)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	if hub == nil {
		return
	}
	s.AddSubscriber("websocket", func(ctx context.Context, notif *models.Notification) error {
		return hub.BroadcastNotification(notif)
	})
}

// AddSubscriber регистрирует подписчика и его breaker notify:<name>
func (s *NotificationService) AddSubscriber(name string, deliver DeliverFunc) {
	if name == "" || deliver == nil {
		return
	}

	breakerName := subscriberBreakerPrefix + name
	if s.breakers != nil && !s.breakers.HasBreaker(breakerName) {
		s.breakers.RegisterBreaker(bot.BreakerConfig{
			Name:      breakerName,
			Threshold: 5,
			Timeout:   5 * time.Second,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub.name == name {
			s.subscribers[i].deliver = deliver
			return
		}
	}
	s.subscribers = append(s.subscribers, subscriber{name: name, breaker: breakerName, deliver: deliver})
}

// Run читает шину до отмены ctx или закрытия канала
func (s *NotificationService) Run(ctx context.Context, notifications <-chan *models.Notification) {
	s.logger.Info("notification dispatcher started")
	defer s.logger.Info("notification dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			if err := s.CreateNotification(ctx, notif); err != nil {
				s.logger.Warn("notification not fully delivered",
					zap.String("type", notif.Type),
					zap.Error(err),
				)
			}
		}
	}
}

// CreateNotification сохраняет уведомление и доставляет его подписчикам.
//
// Ошибка записи в журнал не блокирует доставку: оператор должен увидеть алерт,
// даже если БД недоступна. Возвращает объединённые ошибки записи и доставки.
func (s *NotificationService) CreateNotification(ctx context.Context, notif *models.Notification) error {
	if notif == nil {
		return nil
	}
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	var errs []error

	if err := s.persist(ctx, notif); err != nil {
		s.logger.Error("failed to persist notification", zap.String("type", notif.Type), zap.Error(err))
		errs = append(errs, fmt.Errorf("persist: %w", err))
	}

	s.mu.RLock()
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		if err := s.deliver(ctx, sub, notif); err != nil {
			s.logger.Warn("notification delivery failed",
				zap.String("subscriber", sub.name),
				zap.String("type", notif.Type),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("deliver to %s: %w", sub.name, err))
		}
	}

	return errors.Join(errs...)
}

func (s *NotificationService) persist(ctx context.Context, notif *models.Notification) error {
	if s.notificationRepo == nil {
		return nil
	}

	write := func(ctx context.Context) error {
		return retry.Do(ctx, func() error {
			return s.notificationRepo.Create(ctx, notif)
		}, s.persistRetry)
	}

	if s.breakers == nil {
		return write(ctx)
	}
	return s.breakers.Execute(ctx, bot.BreakerDatabase, write, nil)
}

func (s *NotificationService) deliver(ctx context.Context, sub subscriber, notif *models.Notification) error {
	if s.breakers == nil {
		return sub.deliver(ctx, notif)
	}
	return s.breakers.Execute(ctx, sub.breaker, func(ctx context.Context) error {
		return sub.deliver(ctx, notif)
	}, nil)
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// Неизвестные типы отбрасываются; если после этого фильтр пуст,
// возвращаются уведомления всех типов (новые сверху).
func (s *NotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	limit = normalizeLimit(limit, 100, 500)

	normalizedTypes := make([]string, 0, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" && isValidNotificationType(normalized) {
			normalizedTypes = append(normalizedTypes, normalized)
		}
	}

	if len(normalizedTypes) > 0 {
		return s.notificationRepo.GetByTypes(ctx, normalizedTypes, limit)
	}

	return s.notificationRepo.GetRecent(ctx, limit)
}

// CleanupOld удаляет уведомления старше maxAge
func (s *NotificationService) CleanupOld(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	deleted, err := s.notificationRepo.DeleteOlderThan(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("old notifications removed", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// isValidNotificationType проверяет, является ли тип допустимым.
func isValidNotificationType(notifType string) bool {
	switch notifType {
	case models.NotificationTypeOverfill,
		models.NotificationTypeDiscrepancy,
		models.NotificationTypeGhostPosition,
		models.NotificationTypeAdjustment,
		models.NotificationTypeBreakerOpen,
		models.NotificationTypeBreakerClosed,
		models.NotificationTypeHealthCritical:
		return true
	}
	return false
}
