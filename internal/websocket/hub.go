package websocket

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrBroadcastBufferFull - очередь рассылки переполнена, сообщение отброшено
	ErrBroadcastBufferFull = errors.New("websocket broadcast buffer full")

	// ErrHubStopped - hub остановлен
	ErrHubStopped = errors.New("websocket hub stopped")
)

const (
	broadcastBufferSize = 256
	broadcastBufferName = "websocket_broadcast"
)

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями операторов.
//
// Рассылает алерты, отчёты сверки и состояние breakers всем подключённым клиентам.
// Broadcast никогда не блокирует отправителя: при переполнении очереди сообщение
// отбрасывается и возвращается ErrBroadcastBufferFull. Для NotificationService
// это ошибка доставки, которую считает breaker подписчика.
//
// Использование:
// 1. Создать hub: hub := NewHub(cfg.Server.AllowedOrigins, logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Подключить endpoint: router.HandleFunc("/ws/stream", hub.ServeWS)
// 4. При завершении: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	dropped atomic.Int64
	origins *OriginChecker

	// Mutex для потокобезопасного доступа к clients
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub создает новый Hub. Пустой allowedOrigins или "*" - разрешены все origin.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		logger:     logger.With(utils.Component("websocket_hub")),
	}
}

// Run запускает главный цикл Hub до вызова Stop.
//
// Список клиентов копируется под коротким RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			bot.RecordBufferBacklog(broadcastBufferName, cap(h.broadcast), len(h.broadcast))

			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("removed slow clients", zap.Int("removed", len(toRemove)), zap.Int("clients", total))
			}
		}
	}
}

// Stop останавливает Run и закрывает все клиентские соединения. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки без блокировки
func (h *Hub) Broadcast(message interface{}) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		jsonBufferPool.Put(buf)
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return err
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msgCopy:
		return nil
	default:
		h.dropped.Add(1)
		bot.RecordBufferOverflow(broadcastBufferName)
		return ErrBroadcastBufferFull
	}
}

// BroadcastNotification рассылает алерт (подписчик "websocket" у NotificationService)
func (h *Hub) BroadcastNotification(notification *models.Notification) error {
	if notification == nil {
		return nil
	}
	return h.Broadcast(NewNotificationMessage(notification))
}

// BroadcastReconciliationReport рассылает отчёт сверки
func (h *Hub) BroadcastReconciliationReport(report *models.ReconciliationReport) error {
	if report == nil {
		return nil
	}
	return h.Broadcast(NewReconciliationReportMessage(report))
}

// BroadcastBreakerUpdate рассылает состояние breaker
func (h *Hub) BroadcastBreakerUpdate(state *models.BreakerState) error {
	if state == nil {
		return nil
	}
	return h.Broadcast(NewBreakerUpdateMessage(state))
}

// BroadcastHealthUpdate рассылает сводку здоровья
func (h *Hub) BroadcastHealthUpdate(summary *models.HealthSummary) error {
	if summary == nil {
		return nil
	}
	return h.Broadcast(NewHealthUpdateMessage(summary))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
