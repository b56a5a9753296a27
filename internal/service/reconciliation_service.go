package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/pkg/retry"
	"perpguard/pkg/utils"
)

// ReportBroadcaster - рассылка отчётов сверки операторам (WebSocket hub)
type ReportBroadcaster interface {
	BroadcastReconciliationReport(report *models.ReconciliationReport) error
}

// ReconciliationService - журнал отчётов сверки.
// SaveReport подключается к Reconciler.SetReportCallback.
type ReconciliationService struct {
	repo         ReconciliationRepositoryInterface
	breakers     *bot.CircuitBreakerManager
	broadcaster  ReportBroadcaster
	persistRetry retry.Config
	saveTimeout  time.Duration
	logger       *zap.Logger
}

// NewReconciliationService создает новый экземпляр сервиса
func NewReconciliationService(repo ReconciliationRepositoryInterface, breakers *bot.CircuitBreakerManager, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := retry.PersistenceConfig()
	cfg.RetryIf = retryPersistence
	return &ReconciliationService{
		repo:         repo,
		breakers:     breakers,
		persistRetry: cfg,
		saveTimeout:  10 * time.Second,
		logger:       logger.With(utils.Component("reconciliation_service")),
	}
}

// SetBroadcaster подключает рассылку отчётов
func (s *ReconciliationService) SetBroadcaster(b ReportBroadcaster) {
	s.broadcaster = b
}

// SaveReport сохраняет отчёт и рассылает его операторам.
// Сигнатура совпадает с callback сверки, поэтому ошибки только логируются.
func (s *ReconciliationService) SaveReport(report *models.ReconciliationReport) {
	if report == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()

	write := func(ctx context.Context) error {
		return retry.Do(ctx, func() error {
			return s.repo.SaveReport(ctx, report)
		}, s.persistRetry)
	}

	var err error
	if s.breakers != nil {
		err = s.breakers.Execute(ctx, bot.BreakerDatabase, write, nil)
	} else {
		err = write(ctx)
	}
	if err != nil {
		s.logger.Error("failed to persist reconciliation report", utils.ReportID(report.ID), zap.Error(err))
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastReconciliationReport(report); err != nil {
			s.logger.Warn("failed to broadcast reconciliation report", utils.ReportID(report.ID), zap.Error(err))
		}
	}
}

// GetReports возвращает последние отчёты из журнала
func (s *ReconciliationService) GetReports(ctx context.Context, limit int) ([]*models.ReconciliationReport, error) {
	return s.repo.GetRecentReports(ctx, normalizeLimit(limit, 20, 200))
}

// GetReport возвращает отчёт по ID
func (s *ReconciliationService) GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error) {
	return s.repo.GetReport(ctx, id)
}

// GetAdjustments возвращает журнал корректировок (symbol пусто - все символы)
func (s *ReconciliationService) GetAdjustments(ctx context.Context, symbol string, limit int) ([]*models.AdjustmentRecord, error) {
	return s.repo.GetAdjustments(ctx, symbol, normalizeLimit(limit, 50, 500))
}
