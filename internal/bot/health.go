package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

// maxHealthHistory - размер истории результатов health check
const maxHealthHistory = 500

// HealthCheckFunc - независимая проверка одной зависимости
type HealthCheckFunc func(ctx context.Context) *models.HealthCheckResult

// PingFunc - активная проверка доступности (db.PingContext, venue.Ping)
type PingFunc func(ctx context.Context) error

// RegisterHealthCheck регистрирует (или заменяет) проверку компонента
func (m *CircuitBreakerManager) RegisterHealthCheck(component string, check HealthCheckFunc) {
	if component == "" || check == nil {
		return
	}
	m.mu.Lock()
	m.healthChecks[component] = check
	m.mu.Unlock()
}

// BreakerHealthCheck строит проверку по состоянию breaker:
// CLOSED без ошибок - HEALTHY, CLOSED с ошибками или HALF_OPEN - DEGRADED,
// OPEN - UNHEALTHY, OPEN после исчерпания попыток восстановления - CRITICAL
func (m *CircuitBreakerManager) BreakerHealthCheck(name string) HealthCheckFunc {
	return func(ctx context.Context) *models.HealthCheckResult {
		state, ok := m.GetBreakerStatus(name)
		if !ok {
			return &models.HealthCheckResult{
				Component: name,
				Status:    models.HealthUnhealthy,
				Message:   "breaker not registered",
			}
		}
		return breakerHealth(name, state)
	}
}

func breakerHealth(component string, state *models.BreakerState) *models.HealthCheckResult {
	res := &models.HealthCheckResult{
		Component: component,
		Metrics: map[string]interface{}{
			"state":             state.State,
			"error_count":       state.ErrorCount,
			"threshold":         state.Threshold,
			"recovery_attempts": state.RecoveryAttempts,
		},
	}

	switch {
	case state.IsOpen && !state.HalfOpen && state.RecoveryAttempts >= MaxRecoveryAttempts:
		res.Status = models.HealthCritical
		res.Message = fmt.Sprintf("breaker open, recovery exhausted after %d attempts: %s", state.RecoveryAttempts, state.LastError)
	case state.HalfOpen:
		res.Status = models.HealthDegraded
		res.Message = "breaker half-open, probing recovery"
	case state.IsOpen:
		res.Status = models.HealthUnhealthy
		res.Message = fmt.Sprintf("breaker open: %s", state.LastError)
	case state.ErrorCount > 0:
		res.Status = models.HealthDegraded
		res.Message = fmt.Sprintf("%d recent errors (threshold %d)", state.ErrorCount, state.Threshold)
	default:
		res.Status = models.HealthHealthy
		res.Message = "ok"
	}
	return res
}

// PingHealthCheck дополняет проверку состояния breaker активным ping.
// При открытом breaker ping не выполняется.
func (m *CircuitBreakerManager) PingHealthCheck(name string, ping PingFunc, slowThreshold time.Duration) HealthCheckFunc {
	base := m.BreakerHealthCheck(name)
	return func(ctx context.Context) *models.HealthCheckResult {
		res := base(ctx)
		if res.Status.Severity() >= models.HealthUnhealthy.Severity() || ping == nil {
			return res
		}

		start := time.Now()
		err := ping(ctx)
		elapsed := time.Since(start)
		res.Metrics["ping_ms"] = float64(elapsed.Microseconds()) / 1000

		switch {
		case err != nil:
			res.Status = models.HealthUnhealthy
			res.Message = fmt.Sprintf("ping failed: %v", err)
		case slowThreshold > 0 && elapsed > slowThreshold:
			res.Status = worse(res.Status, models.HealthDegraded)
			res.Message = fmt.Sprintf("slow ping: %s", elapsed)
		}
		return res
	}
}

func worse(a, b models.HealthStatus) models.HealthStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// RunAllHealthChecks запускает все проверки параллельно и ждёт их завершения.
// Медленная или упавшая проверка не задерживает остальные.
func (m *CircuitBreakerManager) RunAllHealthChecks(ctx context.Context) map[string]*models.HealthCheckResult {
	m.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(m.healthChecks))
	for name, check := range m.healthChecks {
		checks[name] = check
	}
	timeout := m.healthRunTimeout
	m.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make(map[string]*models.HealthCheckResult, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(component string, check HealthCheckFunc) {
			defer wg.Done()
			res := m.runHealthCheck(ctx, component, check)

			mu.Lock()
			results[component] = res
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	now := m.now()
	critical := make([]*models.HealthCheckResult, 0)

	m.mu.Lock()
	for component, res := range results {
		m.healthHistory = append(m.healthHistory, res)
		m.lastHealth[component] = res
		if res.Status == models.HealthCritical {
			last, alerted := m.healthAlertAt[component]
			if !alerted || now.Sub(last) >= alertCooldown {
				m.healthAlertAt[component] = now
				critical = append(critical, res)
			}
		}
	}
	if len(m.healthHistory) > maxHealthHistory {
		m.healthHistory = m.healthHistory[len(m.healthHistory)-maxHealthHistory:]
	}
	m.lastHealthRun = now
	m.mu.Unlock()

	for component, res := range results {
		RecordHealthStatus(component, res.Status.Severity())
	}

	for _, res := range critical {
		m.logger.Error("health check critical",
			utils.Component(res.Component),
			zap.String("message", res.Message),
		)
		m.publishAlert(newNotification(
			now,
			models.NotificationTypeHealthCritical,
			models.SeverityError,
			"health",
			fmt.Sprintf("Health check %s is CRITICAL: %s", res.Component, res.Message),
			map[string]interface{}{
				"component": res.Component,
				"status":    string(res.Status),
			},
		))
	}

	return results
}

// runHealthCheck выполняет одну проверку; паника проверки превращается в CRITICAL
func (m *CircuitBreakerManager) runHealthCheck(ctx context.Context, component string, check HealthCheckFunc) (res *models.HealthCheckResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = &models.HealthCheckResult{
				Component: component,
				Status:    models.HealthCritical,
				Message:   fmt.Sprintf("health check panicked: %v", r),
			}
		}
		if res == nil {
			res = &models.HealthCheckResult{
				Component: component,
				Status:    models.HealthUnhealthy,
				Message:   "health check returned no result",
			}
		}
		if res.Component == "" {
			res.Component = component
		}
		if res.ResponseTime == 0 {
			res.ResponseTime = time.Since(start)
		}
		if res.Timestamp.IsZero() {
			res.Timestamp = m.now()
		}
	}()

	return check(ctx)
}

// StartHealthChecks запускает периодические проверки (первая - сразу).
// Повторный вызов перезапускает цикл с новым интервалом.
func (m *CircuitBreakerManager) StartHealthChecks(interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.healthCheckMu.Lock()
	defer m.healthCheckMu.Unlock()

	m.stopHealthChecksLocked()

	ctx, cancel := context.WithCancel(context.Background())
	m.healthCancel = cancel
	m.healthWG.Add(1)

	go func() {
		defer m.healthWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.RunAllHealthChecks(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunAllHealthChecks(ctx)
			}
		}
	}()

	m.logger.Info("health checks started", zap.Duration("interval", interval))
}

// StopHealthChecks останавливает периодические проверки и ждёт завершения цикла
func (m *CircuitBreakerManager) StopHealthChecks() {
	m.healthCheckMu.Lock()
	defer m.healthCheckMu.Unlock()
	m.stopHealthChecksLocked()
}

func (m *CircuitBreakerManager) stopHealthChecksLocked() {
	if m.healthCancel == nil {
		return
	}
	m.healthCancel()
	m.healthWG.Wait()
	m.healthCancel = nil
	m.logger.Info("health checks stopped")
}

// GetHealthHistory возвращает последние limit результатов (limit <= 0 - все)
func (m *CircuitBreakerManager) GetHealthHistory(limit int) []*models.HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(m.healthHistory) {
		start = len(m.healthHistory) - limit
	}
	result := make([]*models.HealthCheckResult, len(m.healthHistory)-start)
	copy(result, m.healthHistory[start:])
	return result
}

// GetHealthSummary - сводка: худший статус по последним проверкам и открытые breaker.
// До первой проверки статус выводится из состояния breaker.
func (m *CircuitBreakerManager) GetHealthSummary() *models.HealthSummary {
	m.mu.RLock()
	summary := &models.HealthSummary{
		Overall:    models.HealthHealthy,
		Components: make(map[string]*models.HealthCheckResult, len(m.lastHealth)),
	}
	for component, res := range m.lastHealth {
		cp := *res
		summary.Components[component] = &cp
		summary.Overall = worse(summary.Overall, res.Status)
	}
	if !m.lastHealthRun.IsZero() {
		t := m.lastHealthRun
		summary.CheckedAt = &t
	}
	m.mu.RUnlock()

	summary.OpenBreakers = m.OpenBreakers()
	if len(summary.OpenBreakers) > 0 {
		summary.Overall = worse(summary.Overall, models.HealthUnhealthy)
	}
	return summary
}
