package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"perpguard/internal/api/handlers"
	"perpguard/internal/api/middleware"
	"perpguard/internal/service"
	"perpguard/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers.
// nil поле - соответствующая группа маршрутов не регистрируется.
type Dependencies struct {
	Breakers   handlers.BreakerController
	Health     handlers.HealthMonitor
	Reconciler handlers.ReconcilerController
	Overfill   handlers.OverfillInspector
	Positions  handlers.PositionBook

	NotificationService   service.NotificationServiceInterface
	ReconciliationService service.ReconciliationServiceInterface
	OverfillAudit         service.OverfillAuditInterface

	Hub            *websocket.Hub
	Auth           *middleware.OperatorAuth
	AllowedOrigins []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов (* - требует аутентификации оператора):
//
// /api/v1/
//
//	├── /breakers/
//	│   ├── GET / - состояние всех breakers
//	│   ├── GET /metrics - метрики всех breakers
//	│   ├── GET /{name} - состояние и метрики breaker
//	│   ├── POST /{name}/open * - принудительно открыть
//	│   └── POST /{name}/reset * - сбросить в CLOSED
//	├── /health/
//	│   ├── GET / - сводка здоровья
//	│   ├── GET /history - история проверок
//	│   └── POST /run * - выполнить проверки сейчас
//	├── /reconciliation/
//	│   ├── GET /history, DELETE /history * - история в памяти
//	│   ├── GET /stats - статистика
//	│   ├── POST /run * - выполнить сверку сейчас
//	│   ├── GET /config, PATCH /config * - параметры сверки
//	│   ├── GET /reports, GET /reports/{id} - журнал отчётов
//	│   └── GET /adjustments, POST /adjustments * - журнал и ручное применение
//	├── /positions/
//	│   ├── GET / - локальные позиции
//	│   └── GET /{symbol} - позиция символа
//	├── /overfill/
//	│   ├── GET /stats, GET /history, GET /audit
//	│   ├── GET /orders/{id} - ордер, fill и ожидаемая позиция
//	│   └── GET /config, PATCH /config * - параметры защиты
//	└── /notifications/
//	    └── GET / - журнал алертов
//
// /health - liveness для балансировщика
// /metrics - Prometheus
// /ws/stream - WebSocket для real-time обновлений
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. OperatorAuth (только для изменяющих маршрутов)
func SetupRoutes(deps *Dependencies, logger *zap.Logger) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	// operator оборачивает изменяющий handler аутентификацией.
	// Без настроенной аутентификации изменяющие операции запрещены.
	operator := func(h http.HandlerFunc) http.Handler {
		if deps.Auth == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"operator access is not configured","code":"FORBIDDEN"}`))
			})
		}
		return deps.Auth.Middleware(h)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	// Breaker routes
	if deps.Breakers != nil {
		breakerHandler := handlers.NewBreakerHandler(deps.Breakers, logger)
		if deps.Hub != nil {
			breakerHandler.SetBroadcaster(deps.Hub)
		}

		api.HandleFunc("/breakers", breakerHandler.GetBreakers).Methods("GET")
		api.HandleFunc("/breakers/metrics", breakerHandler.GetAllMetrics).Methods("GET")
		api.HandleFunc("/breakers/{name}", breakerHandler.GetBreaker).Methods("GET")
		api.Handle("/breakers/{name}/open", operator(breakerHandler.OpenBreaker)).Methods("POST")
		api.Handle("/breakers/{name}/reset", operator(breakerHandler.ResetBreaker)).Methods("POST")
	}

	// Health routes
	if deps.Health != nil {
		healthHandler := handlers.NewHealthHandler(deps.Health, logger)
		if deps.Hub != nil {
			healthHandler.SetBroadcaster(deps.Hub)
		}

		api.HandleFunc("/health", healthHandler.GetHealth).Methods("GET")
		api.HandleFunc("/health/history", healthHandler.GetHealthHistory).Methods("GET")
		api.Handle("/health/run", operator(healthHandler.RunHealthChecks)).Methods("POST")

		router.HandleFunc("/health", healthHandler.Liveness).Methods("GET")
	} else {
		router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}).Methods("GET")
	}

	// Reconciliation routes
	if deps.Reconciler != nil && deps.ReconciliationService != nil {
		reconHandler := handlers.NewReconciliationHandler(deps.Reconciler, deps.ReconciliationService, logger)

		api.HandleFunc("/reconciliation/history", reconHandler.GetHistory).Methods("GET")
		api.Handle("/reconciliation/history", operator(reconHandler.ClearHistory)).Methods("DELETE")
		api.HandleFunc("/reconciliation/stats", reconHandler.GetStats).Methods("GET")
		api.Handle("/reconciliation/run", operator(reconHandler.RunReconciliation)).Methods("POST")
		api.HandleFunc("/reconciliation/config", reconHandler.GetConfig).Methods("GET")
		api.Handle("/reconciliation/config", operator(reconHandler.UpdateConfig)).Methods("PATCH")
		api.HandleFunc("/reconciliation/reports", reconHandler.GetReports).Methods("GET")
		api.HandleFunc("/reconciliation/reports/{id}", reconHandler.GetReport).Methods("GET")
		api.HandleFunc("/reconciliation/adjustments", reconHandler.GetAdjustments).Methods("GET")
		api.Handle("/reconciliation/adjustments", operator(reconHandler.ApplyAdjustment)).Methods("POST")
	}

	// Position routes
	if deps.Positions != nil {
		positionHandler := handlers.NewPositionHandler(deps.Positions, logger)

		api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
		api.HandleFunc("/positions/{symbol}", positionHandler.GetPosition).Methods("GET")
	}

	// Overfill routes
	if deps.Overfill != nil {
		overfillHandler := handlers.NewOverfillHandler(deps.Overfill, deps.OverfillAudit, logger)

		api.HandleFunc("/overfill/stats", overfillHandler.GetStats).Methods("GET")
		api.HandleFunc("/overfill/history", overfillHandler.GetHistory).Methods("GET")
		api.HandleFunc("/overfill/audit", overfillHandler.GetAudit).Methods("GET")
		api.HandleFunc("/overfill/orders/{id}", overfillHandler.GetOrder).Methods("GET")
		api.HandleFunc("/overfill/config", overfillHandler.GetConfig).Methods("GET")
		api.Handle("/overfill/config", operator(overfillHandler.UpdateConfig)).Methods("PATCH")
	}

	// Notification routes
	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService, logger)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS)
	}

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Preflight (OPTIONS) не совпадает по методу ни с одним маршрутом,
	// поэтому CORS отвечает на него из обработчика 405
	router.MethodNotAllowedHandler = middleware.CORS(deps.AllowedOrigins)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			w.Write([]byte(`{"error":"method not allowed","code":"METHOD_NOT_ALLOWED"}`))
		}),
	)

	return router
}
