package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/models"
	"perpguard/pkg/retry"
	"perpguard/pkg/utils"
)

// Имена breaker по умолчанию
const (
	BreakerVenueAPI         = "venue_api"
	BreakerExecution        = "execution"
	BreakerRiskEngine       = "risk_engine"
	BreakerDatabase         = "database"
	BreakerVectorStore      = "vector_store"
	BreakerLLMService       = "llm_service"
	BreakerPositionRecovery = "position_recovery"
)

const (
	// MaxRecoveryAttempts - после стольких неудач в HALF_OPEN breaker возвращается в OPEN
	MaxRecoveryAttempts = 5

	// halfOpenSuccessThreshold - успехов подряд в HALF_OPEN для закрытия
	halfOpenSuccessThreshold = 2

	// alertCooldown - повторный алерт по тому же breaker не раньше
	alertCooldown = 5 * time.Minute

	// responseTimeAlpha - коэффициент сглаживания EMA времени ответа
	responseTimeAlpha = 0.1
)

var (
	// ErrBreakerOpen - вызов отклонён без выполнения, breaker открыт
	ErrBreakerOpen = errors.New("circuit breaker is open")

	ErrUnknownBreaker = errors.New("unknown circuit breaker")
)

// BreakerConfig - параметры одного breaker
type BreakerConfig struct {
	Name      string        `json:"name"`
	Threshold int           `json:"threshold"` // ошибок до открытия
	Timeout   time.Duration `json:"timeout"`   // ограничение на один защищённый вызов

	// EmergencyAction вызывается при открытии (например, остановить зависимый монитор)
	EmergencyAction func(reason string) `json:"-"`
}

// DefaultBreakerConfigs возвращает breaker по умолчанию.
// Пути, чувствительные к риску, срабатывают быстрее.
func DefaultBreakerConfigs() []BreakerConfig {
	return []BreakerConfig{
		{Name: BreakerVenueAPI, Threshold: 10, Timeout: 120 * time.Second},
		{Name: BreakerExecution, Threshold: 5, Timeout: 60 * time.Second},
		{Name: BreakerRiskEngine, Threshold: 3, Timeout: 30 * time.Second},
		{Name: BreakerDatabase, Threshold: 5, Timeout: 30 * time.Second},
		{Name: BreakerVectorStore, Threshold: 5, Timeout: 60 * time.Second},
		{Name: BreakerLLMService, Threshold: 5, Timeout: 90 * time.Second},
		{Name: BreakerPositionRecovery, Threshold: 3, Timeout: 60 * time.Second},
	}
}

// breaker - изменяемое состояние одного breaker (под блокировкой менеджера)
type breaker struct {
	cfg BreakerConfig

	isOpen           bool
	halfOpen         bool
	openedAt         time.Time
	errorCount       int
	successCount     int
	recoveryAttempts int
	lastError        string
	lastAlertAt      time.Time

	metrics models.BreakerMetrics
}

func (b *breaker) stateName() string {
	switch {
	case b.halfOpen:
		return models.BreakerHalfOpen
	case b.isOpen:
		return models.BreakerOpen
	default:
		return models.BreakerClosed
	}
}

func (b *breaker) snapshot() *models.BreakerState {
	s := &models.BreakerState{
		Name:             b.cfg.Name,
		State:            b.stateName(),
		IsOpen:           b.isOpen,
		HalfOpen:         b.halfOpen,
		ErrorCount:       b.errorCount,
		SuccessCount:     b.successCount,
		Threshold:        b.cfg.Threshold,
		Timeout:          b.cfg.Timeout,
		RecoveryAttempts: b.recoveryAttempts,
		LastError:        b.lastError,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	if !b.lastAlertAt.IsZero() {
		t := b.lastAlertAt
		s.LastAlertAt = &t
	}
	return s
}

// CircuitBreakerManager изолирует отказы именованных зависимостей.
//
// CLOSED -(ошибок >= threshold)-> OPEN -(прошло >= backoff(attempts))-> HALF_OPEN
// -(2 успеха подряд)-> CLOSED. Неудача в HALF_OPEN увеличивает recoveryAttempts;
// при >= MaxRecoveryAttempts breaker снова OPEN без сброса счётчика попыток,
// поэтому backoff продолжает расти до первой чистой серии успехов.
type CircuitBreakerManager struct {
	mu sync.RWMutex

	breakers map[string]*breaker

	// health checks (health.go)
	healthChecks     map[string]HealthCheckFunc
	healthHistory    []*models.HealthCheckResult
	lastHealth       map[string]*models.HealthCheckResult
	lastHealthRun    time.Time
	healthAlertAt    map[string]time.Time
	healthCancel     context.CancelFunc
	healthWG         sync.WaitGroup
	healthCheckMu    sync.Mutex // сериализует Start/Stop
	healthRunTimeout time.Duration

	alertHandlers    []func(*models.Notification)
	notificationChan chan<- *models.Notification

	backoff func(attempts int) time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewCircuitBreakerManager создаёт менеджер и регистрирует breaker из configs
// (nil - DefaultBreakerConfigs) вместе с их health check по умолчанию
func NewCircuitBreakerManager(configs []BreakerConfig, notificationChan chan<- *models.Notification, logger *zap.Logger) *CircuitBreakerManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if configs == nil {
		configs = DefaultBreakerConfigs()
	}

	backoffCfg := retry.BreakerConfig()
	m := &CircuitBreakerManager{
		breakers:         make(map[string]*breaker),
		healthChecks:     make(map[string]HealthCheckFunc),
		healthHistory:    make([]*models.HealthCheckResult, 0, 64),
		lastHealth:       make(map[string]*models.HealthCheckResult),
		healthAlertAt:    make(map[string]time.Time),
		healthRunTimeout: 10 * time.Second,
		notificationChan: notificationChan,
		backoff:          backoffCfg.Delay,
		now:              time.Now,
		logger:           logger.With(utils.Component("circuit_breaker")),
	}

	for _, cfg := range configs {
		m.RegisterBreaker(cfg)
		m.RegisterHealthCheck(cfg.Name, m.BreakerHealthCheck(cfg.Name))
	}
	return m
}

// RegisterBreaker регистрирует (или перенастраивает) breaker.
// Состояние существующего breaker сохраняется.
func (m *CircuitBreakerManager) RegisterBreaker(cfg BreakerConfig) {
	if cfg.Name == "" {
		return
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[cfg.Name]; ok {
		b.cfg = cfg
		return
	}
	m.breakers[cfg.Name] = &breaker{cfg: cfg}
	BreakerStateGauge.WithLabelValues(cfg.Name).Set(0)
}

// HasBreaker проверяет, зарегистрирован ли breaker
func (m *CircuitBreakerManager) HasBreaker(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.breakers[name]
	return ok
}

// Backoff - задержка перед попыткой восстановления:
// min(1s * 2^attempts, 60s) ± 20%
func (m *CircuitBreakerManager) Backoff(attempts int) time.Duration {
	return m.backoff(attempts)
}

// Execute выполняет fn под защитой breaker name.
//
// Неизвестный breaker - вызов без защиты. Открытый breaker до истечения backoff
// отклоняет вызов (ErrBreakerOpen) или отдаёт его fallback. Ошибка fn возвращается
// вызывающему как есть, если fallback не задан.
func (m *CircuitBreakerManager) Execute(
	ctx context.Context,
	name string,
	fn func(ctx context.Context) error,
	fallback func(ctx context.Context, err error) error,
) error {
	m.mu.Lock()
	b, ok := m.breakers[name]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("unknown circuit breaker, executing unprotected", utils.Breaker(name))
		return fn(ctx)
	}

	b.metrics.TotalCalls++

	if b.isOpen && !b.halfOpen {
		wait := m.backoff(b.recoveryAttempts)
		if m.now().Sub(b.openedAt) < wait {
			b.metrics.RejectedCalls++
			m.mu.Unlock()

			RecordBreakerCall(name, "rejected", 0)
			err := fmt.Errorf("%w: %s", ErrBreakerOpen, name)
			if fallback != nil {
				return fallback(ctx, err)
			}
			return err
		}

		b.halfOpen = true
		b.successCount = 0
		RecordBreakerState(name, models.BreakerHalfOpen)
		m.logger.Info("circuit breaker half-open",
			utils.Breaker(name),
			zap.Int("recovery_attempts", b.recoveryAttempts),
		)
	}

	timeout := b.cfg.Timeout
	m.mu.Unlock()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	if err == nil {
		m.onSuccess(name, latencyMs)
		RecordBreakerCall(name, "success", latencyMs)
		return nil
	}

	m.onError(name, err)
	RecordBreakerCall(name, "failure", latencyMs)
	if fallback != nil {
		return fallback(ctx, err)
	}
	return err
}

// Call - Execute для функций с результатом
func Call[T any](ctx context.Context, m *CircuitBreakerManager, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Execute(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, nil)
	return result, err
}

// onSuccess: счётчик ошибок затухает на 1 даже в CLOSED
func (m *CircuitBreakerManager) onSuccess(name string, latencyMs float64) {
	m.mu.Lock()
	b, ok := m.breakers[name]
	if !ok {
		m.mu.Unlock()
		return
	}

	b.successCount++
	if b.errorCount > 0 {
		b.errorCount--
	}

	b.metrics.SuccessfulCalls++
	if b.metrics.SuccessfulCalls == 1 {
		b.metrics.AvgResponseTime = latencyMs
	} else {
		b.metrics.AvgResponseTime = responseTimeAlpha*latencyMs + (1-responseTimeAlpha)*b.metrics.AvgResponseTime
	}

	var closed bool
	if b.halfOpen && b.successCount >= halfOpenSuccessThreshold {
		b.isOpen = false
		b.halfOpen = false
		b.errorCount = 0
		b.successCount = 0
		b.recoveryAttempts = 0
		b.openedAt = time.Time{}
		closed = true
	}
	m.mu.Unlock()

	if closed {
		RecordBreakerState(name, models.BreakerClosed)
		m.logger.Info("circuit breaker closed (recovered)", utils.Breaker(name))
		tryEnqueueNotification(m.notificationChan, newNotification(
			m.now(),
			models.NotificationTypeBreakerClosed,
			models.SeverityInfo,
			"circuit_breaker",
			fmt.Sprintf("Circuit breaker %s recovered", name),
			map[string]interface{}{"breaker": name},
		))
	}
}

// onError: открывает breaker по порогу, в HALF_OPEN считает попытки восстановления
func (m *CircuitBreakerManager) onError(name string, callErr error) {
	m.mu.Lock()
	b, ok := m.breakers[name]
	if !ok {
		m.mu.Unlock()
		return
	}

	now := m.now()
	b.errorCount++
	b.lastError = callErr.Error()
	b.metrics.FailedCalls++

	if b.halfOpen {
		b.recoveryAttempts++
		b.successCount = 0
		attempts := b.recoveryAttempts
		exhausted := attempts >= MaxRecoveryAttempts
		if exhausted {
			b.halfOpen = false
			b.openedAt = now
		}
		m.mu.Unlock()

		if exhausted {
			RecordBreakerState(name, models.BreakerOpen)
			m.logger.Warn("circuit breaker recovery exhausted, back to open",
				utils.Breaker(name),
				zap.Int("recovery_attempts", attempts),
				zap.Duration("next_backoff", m.backoff(attempts)),
				zap.Error(callErr),
			)
		} else {
			m.logger.Warn("circuit breaker recovery attempt failed",
				utils.Breaker(name),
				zap.Int("recovery_attempts", attempts),
				zap.Error(callErr),
			)
		}
		return
	}

	if b.errorCount < b.cfg.Threshold || b.isOpen {
		m.mu.Unlock()
		return
	}

	reason := fmt.Sprintf("error threshold reached (%d/%d): %s", b.errorCount, b.cfg.Threshold, b.lastError)
	notif, emergency := m.openLocked(b, now, reason)
	m.mu.Unlock()

	m.afterOpen(name, reason, notif, emergency)
}

// openLocked переводит breaker в OPEN. Возвращает алерт (nil - подавлен) и аварийное действие.
func (m *CircuitBreakerManager) openLocked(b *breaker, now time.Time, reason string) (*models.Notification, func(string)) {
	b.isOpen = true
	b.halfOpen = false
	b.openedAt = now
	b.recoveryAttempts = 0
	b.successCount = 0
	opened := now
	b.metrics.LastOpenedAt = &opened

	var notif *models.Notification
	if b.lastAlertAt.IsZero() || now.Sub(b.lastAlertAt) >= alertCooldown {
		b.lastAlertAt = now
		notif = newNotification(
			now,
			models.NotificationTypeBreakerOpen,
			models.SeverityError,
			"circuit_breaker",
			fmt.Sprintf("Circuit breaker %s opened: %s", b.cfg.Name, reason),
			map[string]interface{}{
				"breaker":     b.cfg.Name,
				"error_count": b.errorCount,
				"threshold":   b.cfg.Threshold,
				"last_error":  b.lastError,
			},
		)
	}
	return notif, b.cfg.EmergencyAction
}

// afterOpen выполняется вне блокировки: лог, метрики, алерт, аварийное действие
func (m *CircuitBreakerManager) afterOpen(name, reason string, notif *models.Notification, emergency func(string)) {
	RecordBreakerState(name, models.BreakerOpen)
	m.logger.Error("circuit breaker opened", utils.Breaker(name), zap.String("reason", reason))

	if notif != nil {
		m.publishAlert(notif)
	} else {
		m.logger.Debug("breaker alert suppressed by cooldown", utils.Breaker(name))
	}

	if emergency != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("emergency action panicked", utils.Breaker(name), zap.Any("panic", r))
				}
			}()
			emergency(reason)
		}()
	}
}

// publishAlert доставляет алерт подписчикам OnAlert и в канал уведомлений
func (m *CircuitBreakerManager) publishAlert(notif *models.Notification) {
	m.mu.RLock()
	handlers := make([]func(*models.Notification), len(m.alertHandlers))
	copy(handlers, m.alertHandlers)
	m.mu.RUnlock()

	for _, h := range handlers {
		h(notif)
	}
	tryEnqueueNotification(m.notificationChan, notif)
}

// OnAlert подписывает обработчик на алерты (открытие breaker, CRITICAL health)
func (m *CircuitBreakerManager) OnAlert(handler func(*models.Notification)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.alertHandlers = append(m.alertHandlers, handler)
	m.mu.Unlock()
}

// OpenBreaker принудительно открывает breaker (аварийная остановка зависимой подсистемы)
func (m *CircuitBreakerManager) OpenBreaker(name, reason string) error {
	m.mu.Lock()
	b, ok := m.breakers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}
	if reason == "" {
		reason = "manually opened"
	}
	b.lastError = reason
	notif, emergency := m.openLocked(b, m.now(), reason)
	m.mu.Unlock()

	m.afterOpen(name, reason, notif, emergency)
	return nil
}

// ResetBreaker возвращает breaker в CLOSED и обнуляет метрики
func (m *CircuitBreakerManager) ResetBreaker(name string) error {
	m.mu.Lock()
	b, ok := m.breakers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}
	m.breakers[name] = &breaker{cfg: b.cfg}
	m.mu.Unlock()

	BreakerStateGauge.WithLabelValues(name).Set(0)
	m.logger.Info("circuit breaker reset", utils.Breaker(name))
	return nil
}

// GetBreakerStatus возвращает снимок состояния breaker
func (m *CircuitBreakerManager) GetBreakerStatus(name string) (*models.BreakerState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.breakers[name]
	if !ok {
		return nil, false
	}
	return b.snapshot(), true
}

// GetAllBreakerStatuses возвращает снимки всех breaker
func (m *CircuitBreakerManager) GetAllBreakerStatuses() map[string]*models.BreakerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*models.BreakerState, len(m.breakers))
	for name, b := range m.breakers {
		result[name] = b.snapshot()
	}
	return result
}

// GetMetrics возвращает метрики одного breaker
func (m *CircuitBreakerManager) GetMetrics(name string) (models.BreakerMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.breakers[name]
	if !ok {
		return models.BreakerMetrics{}, false
	}
	return copyMetrics(b.metrics), true
}

// GetAllMetrics возвращает метрики всех breaker
func (m *CircuitBreakerManager) GetAllMetrics() map[string]models.BreakerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]models.BreakerMetrics, len(m.breakers))
	for name, b := range m.breakers {
		result[name] = copyMetrics(b.metrics)
	}
	return result
}

func copyMetrics(src models.BreakerMetrics) models.BreakerMetrics {
	dst := src
	if src.LastOpenedAt != nil {
		t := *src.LastOpenedAt
		dst.LastOpenedAt = &t
	}
	return dst
}

// OpenBreakers возвращает отсортированные имена открытых breaker
func (m *CircuitBreakerManager) OpenBreakers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0)
	for name, b := range m.breakers {
		if b.isOpen {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// BreakerNames возвращает отсортированные имена всех breaker
func (m *CircuitBreakerManager) BreakerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
