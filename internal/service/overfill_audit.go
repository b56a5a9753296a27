package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/pkg/retry"
	"perpguard/pkg/utils"
)

const overfillBufferName = "overfill_audit"

// OverfillAudit сохраняет записи overfill в БД в фоне.
//
// Enqueue вызывается из пути обработки fill и никогда не блокирует:
// при переполнении буфера запись остаётся только в памяти OverfillProtection.
type OverfillAudit struct {
	repo     OverfillRepositoryInterface
	breakers *bot.CircuitBreakerManager
	queue    chan *models.OverfillRecord

	persistRetry retry.Config
	saveTimeout  time.Duration
	wg           sync.WaitGroup
	logger       *zap.Logger
}

// NewOverfillAudit создаёт журнал с буфером bufferSize
func NewOverfillAudit(repo OverfillRepositoryInterface, breakers *bot.CircuitBreakerManager, bufferSize int, logger *zap.Logger) *OverfillAudit {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	cfg := retry.PersistenceConfig()
	cfg.RetryIf = retryPersistence
	return &OverfillAudit{
		repo:         repo,
		breakers:     breakers,
		queue:        make(chan *models.OverfillRecord, bufferSize),
		persistRetry: cfg,
		saveTimeout:  10 * time.Second,
		logger:       logger.With(utils.Component("overfill_audit")),
	}
}

// Enqueue ставит запись в очередь (подключается как onOverfill)
func (a *OverfillAudit) Enqueue(rec *models.OverfillRecord) {
	if rec == nil {
		return
	}
	cp := *rec
	select {
	case a.queue <- &cp:
		bot.RecordBufferBacklog(overfillBufferName, cap(a.queue), len(a.queue))
	default:
		bot.RecordBufferOverflow(overfillBufferName)
		a.logger.Warn("overfill audit buffer full, record kept in memory only",
			utils.OrderID(rec.OrderID),
			zap.String("overfill_id", rec.ID),
		)
	}
}

// Start запускает фоновую запись до отмены ctx; остаток очереди дописывается перед выходом.
// Отмена ctx не прерывает запись, у каждой записи свой таймаут.
func (a *OverfillAudit) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

func (a *OverfillAudit) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case rec := <-a.queue:
			a.save(rec)
		}
	}
}

// Wait ждёт завершения фоновой записи
func (a *OverfillAudit) Wait() {
	a.wg.Wait()
}

func (a *OverfillAudit) drain() {
	for {
		select {
		case rec := <-a.queue:
			a.save(rec)
		default:
			return
		}
	}
}

func (a *OverfillAudit) save(rec *models.OverfillRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
	defer cancel()

	write := func(ctx context.Context) error {
		return retry.Do(ctx, func() error {
			return a.repo.Create(ctx, rec)
		}, a.persistRetry)
	}

	var err error
	if a.breakers != nil {
		err = a.breakers.Execute(ctx, bot.BreakerDatabase, write, nil)
	} else {
		err = write(ctx)
	}
	if err != nil {
		a.logger.Error("failed to persist overfill record",
			utils.OrderID(rec.OrderID),
			zap.String("overfill_id", rec.ID),
			zap.Error(err),
		)
	}
	bot.RecordBufferBacklog(overfillBufferName, cap(a.queue), len(a.queue))
}

// GetRecent возвращает последние записи из БД
func (a *OverfillAudit) GetRecent(ctx context.Context, limit int) ([]*models.OverfillRecord, error) {
	return a.repo.GetRecent(ctx, normalizeLimit(limit, 100, 1000))
}

// GetByOrderID возвращает записи по ордеру
func (a *OverfillAudit) GetByOrderID(ctx context.Context, orderID string) ([]*models.OverfillRecord, error) {
	return a.repo.GetByOrderID(ctx, orderID)
}
