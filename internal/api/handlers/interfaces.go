package handlers

import (
	"context"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/internal/service"
)

// BreakerController - операции над circuit breakers, доступные API
type BreakerController interface {
	GetAllBreakerStatuses() map[string]*models.BreakerState
	GetBreakerStatus(name string) (*models.BreakerState, bool)
	GetAllMetrics() map[string]models.BreakerMetrics
	GetMetrics(name string) (models.BreakerMetrics, bool)
	OpenBreaker(name, reason string) error
	ResetBreaker(name string) error
}

// HealthMonitor - health checks компонентов
type HealthMonitor interface {
	GetHealthSummary() *models.HealthSummary
	GetHealthHistory(limit int) []*models.HealthCheckResult
	RunAllHealthChecks(ctx context.Context) map[string]*models.HealthCheckResult
}

// ReconcilerController - ручное управление сверкой
type ReconcilerController interface {
	Run(ctx context.Context) (*models.ReconciliationReport, error)
	ApplyAdjustment(ctx context.Context, adj *models.ReconciliationAdjustment) error
	GetHistory(limit int) []*models.ReconciliationReport
	GetStatistics() bot.ReconcilerStats
	GetConfig() bot.ReconcilerConfig
	UpdateConfig(cfg bot.ReconcilerConfig)
	ClearHistory()
}

// OverfillInspector - состояние защиты от overfill
type OverfillInspector interface {
	GetStatistics() bot.OverfillStats
	GetOverfillHistory(limit int) []*models.OverfillRecord
	GetOrder(orderID string) (*models.OrderState, bool)
	GetOrderFills(orderID string) []*models.FillEvent
	CalculateExpectedPosition(orderID string) (bot.ExpectedPosition, bool)
	GetConfig() bot.OverfillConfig
	UpdateConfig(cfg bot.OverfillConfig)
}

// PositionBook - локальная книга позиций
type PositionBook interface {
	GetLocalPositions(ctx context.Context) ([]*models.LocalPosition, error)
	GetPosition(symbol string) (*models.LocalPosition, bool)
}

// StatusBroadcaster рассылает изменения состояния по WebSocket
type StatusBroadcaster interface {
	BroadcastBreakerUpdate(state *models.BreakerState) error
	BroadcastHealthUpdate(summary *models.HealthSummary) error
}

// Проверяем, что реальные компоненты реализуют интерфейсы
var _ BreakerController = (*bot.CircuitBreakerManager)(nil)
var _ HealthMonitor = (*bot.CircuitBreakerManager)(nil)
var _ ReconcilerController = (*bot.Reconciler)(nil)
var _ OverfillInspector = (*bot.OverfillProtection)(nil)
var _ PositionBook = (*service.AdjustmentService)(nil)
