package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"perpguard/internal/api"
	"perpguard/internal/api/middleware"
	"perpguard/internal/bot"
	"perpguard/internal/config"
	"perpguard/internal/exchange"
	"perpguard/internal/models"
	"perpguard/internal/repository"
	"perpguard/internal/service"
	"perpguard/internal/websocket"
	"perpguard/pkg/crypto"
	"perpguard/pkg/utils"
)

const (
	notificationBuffer = 256
	overfillAuditQueue = 256

	maintenanceInterval = time.Hour
	orderRetention      = 24 * time.Hour
	notificationMaxAge  = 7 * 24 * time.Hour
	reportMaxAge        = 30 * 24 * time.Hour
)

func main() {
	// perpguard hash-password: bcrypt-хеш для OPERATOR_PASSWORD_HASH из stdin
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := printPasswordHash(); err != nil {
			fmt.Fprintf(os.Stderr, "hash-password: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer log.Sync()

	if crypto.IsWeakHash(cfg.Security.OperatorPasswordHash) {
		log.Warn("operator password hash uses a low bcrypt cost",
			zap.Int("min_cost", crypto.MinOperatorCost))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect to database",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}
	log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	notificationRepo := repository.NewNotificationRepository(db)
	overfillRepo := repository.NewOverfillRepository(db)
	reconRepo := repository.NewReconciliationRepository(db)

	// Все алерты компонентов идут через один канал в NotificationService
	notifications := make(chan *models.Notification, notificationBuffer)

	breakers := bot.NewCircuitBreakerManager(cfg.Breakers, notifications, log)
	breakers.RegisterHealthCheck(bot.BreakerDatabase,
		breakers.PingHealthCheck(bot.BreakerDatabase, db.PingContext, cfg.Health.SlowPingAfter))

	// Биржа нужна только для сверки; без ключей сверка запускается вручную и вернёт 503
	var venue exchange.Venue
	var venueClient *http.Client
	if cfg.VenueEnabled() {
		venueClient = exchange.NewHTTPClient(exchange.DefaultHTTPClientConfig())
		bybit := exchange.NewBybit(cfg.Venue, venueClient)
		venue = bybit
		breakers.RegisterHealthCheck(bot.BreakerVenueAPI,
			breakers.PingHealthCheck(bot.BreakerVenueAPI, bybit.Ping, cfg.Health.SlowPingAfter))
	} else {
		log.Warn("venue credentials are not set, reconciliation against the venue is disabled")
	}

	// Сервисы
	notificationService := service.NewNotificationService(notificationRepo, breakers, log)
	reconService := service.NewReconciliationService(reconRepo, breakers, log)
	book := service.NewAdjustmentService(reconRepo, notifications, log)

	audit := service.NewOverfillAudit(overfillRepo, breakers, overfillAuditQueue, log)
	audit.Start(ctx)

	protection := bot.NewOverfillProtection(cfg.Overfill, notifications, log)
	protection.SetCallbacks(audit.Enqueue, book.ApplyFill)

	reconciler := bot.NewReconciler(cfg.Reconciliation.ReconcilerConfig, notifications, log)
	reconciler.SetMutator(book)
	reconciler.SetSources(book, venue)
	reconciler.SetBreakers(breakers)
	reconciler.SetReportCallback(reconService.SaveReport)

	// Данные биржи ненадёжны - позиции больше не меняются без оператора
	for _, b := range cfg.Breakers {
		if b.Name != bot.BreakerVenueAPI {
			continue
		}
		b.EmergencyAction = func(reason string) {
			rc := reconciler.GetConfig()
			if !rc.AutoApply {
				return
			}
			rc.AutoApply = false
			reconciler.UpdateConfig(rc)
			log.Warn("venue breaker opened, reconciliation auto-apply disabled", zap.String("reason", reason))
		}
		breakers.RegisterBreaker(b)
	}

	// WebSocket hub
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, log)
	go hub.Run()

	reconService.SetBroadcaster(hub)
	notificationService.SetWebSocketHub(hub)
	go notificationService.Run(ctx, notifications)

	breakers.StartHealthChecks(cfg.Health.Interval)
	if venue != nil {
		reconciler.Start(ctx, cfg.Reconciliation.Interval)
	}

	auth := middleware.NewOperatorAuth(cfg.Security.OperatorUser, cfg.Security.OperatorPasswordHash, log)
	go runMaintenance(ctx, log, protection, notificationService, reconRepo, auth)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Breakers:              breakers,
		Health:                breakers,
		Reconciler:            reconciler,
		Overfill:              protection,
		Positions:             book,
		NotificationService:   notificationService,
		ReconciliationService: reconService,
		OverfillAudit:         audit,
		Hub:                   hub,
		Auth:                  auth,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
	}, log)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // ручная сверка ждёт биржу до 30s
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Порядок важен: сначала источники событий, затем журнал и доставка
	breakers.StopHealthChecks()
	cancel()
	audit.Wait()
	hub.Stop()
	if venueClient != nil {
		exchange.CloseIdle(venueClient)
	}

	log.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// runMaintenance периодически чистит память и журналы
func runMaintenance(
	ctx context.Context,
	log *zap.Logger,
	protection *bot.OverfillProtection,
	notifications *service.NotificationService,
	reports *repository.ReconciliationRepository,
	auth *middleware.OperatorAuth,
) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		removedOrders := protection.Clear(orderRetention)
		releasedIPs := auth.Cleanup()

		deletedNotifs, err := notifications.CleanupOld(ctx, notificationMaxAge)
		if err != nil {
			log.Warn("notification cleanup failed", zap.Error(err))
		}

		deletedReports, err := reports.DeleteReportsOlderThan(ctx, time.Now().Add(-reportMaxAge))
		if err != nil {
			log.Warn("reconciliation report cleanup failed", zap.Error(err))
		}

		log.Info("maintenance completed",
			zap.Int("orders_removed", removedOrders),
			zap.Int("auth_ips_released", releasedIPs),
			zap.Int64("notifications_deleted", deletedNotifs),
			zap.Int64("reports_deleted", deletedReports),
		)
	}
}

// printPasswordHash читает пароль из первой строки stdin и печатает bcrypt-хеш
func printPasswordHash() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	hash, err := crypto.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
