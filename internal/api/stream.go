package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// MaxStreamClients is the maximum number of concurrent stream connections.
const MaxStreamClients = 1000

type streamEvent struct {
	tenantID string
	payload  []byte
}

type streamClient struct {
	hub      *StreamHub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
}

// StreamHub fans alert events out to connected WebSocket clients.
// Each client only sees alerts for its own tenant. The hub subscribes
// to the alert topic lazily, once per tenant.
type StreamHub struct {
	bus    domain.EventBus
	logger *slog.Logger

	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan streamEvent
	done       chan struct{}

	mu      sync.Mutex
	busSubs map[string]domain.Subscription
}

// NewStreamHub creates an alert stream hub.
func NewStreamHub(bus domain.EventBus, logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{
		bus:        bus,
		logger:     logger,
		clients:    make(map[*streamClient]bool),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan streamEvent, 256),
		done:       make(chan struct{}),
		busSubs:    make(map[string]domain.Subscription),
	}
}

// Run starts the hub's main loop. Exits when ctx is done.
func (h *StreamHub) Run(ctx context.Context) {
	h.logger.Info("alert stream hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Lock()
			for tenant, sub := range h.busSubs {
				sub.Unsubscribe()
				delete(h.busSubs, tenant)
			}
			h.mu.Unlock()
			activeStreamClients.Set(0)
			h.logger.Info("alert stream hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			activeStreamClients.Set(float64(len(h.clients)))
			h.logger.Info("stream client connected",
				"tenant_id", client.tenantID,
				"total", len(h.clients),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			activeStreamClients.Set(float64(len(h.clients)))
			h.logger.Info("stream client disconnected",
				"tenant_id", client.tenantID,
				"total", len(h.clients),
			)

		case event := <-h.broadcast:
			for client := range h.clients {
				if client.tenantID != event.tenantID {
					continue
				}
				select {
				case client.send <- event.payload:
				default:
					// Slow client, drop it
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// ensureSubscription subscribes to the alert topic for a tenant once.
func (h *StreamHub) ensureSubscription(tenantID string) {
	if h.bus == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.busSubs[tenantID]; ok {
		return
	}

	sub, err := h.bus.Subscribe(context.Background(), tenantID, domain.TopicAlertRaised, func(ctx context.Context, msg *domain.Message) error {
		select {
		case h.broadcast <- streamEvent{tenantID: msg.TenantID, payload: msg.Payload}:
		default:
			h.logger.Warn("stream broadcast channel full, dropping alert")
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to subscribe alert stream",
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}

	h.busSubs[tenantID] = sub
}

// HandleWebSocket upgrades HTTP to WebSocket for GET /alerts/stream.
func (h *StreamHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	tenantID := GetTenantID(r.Context())
	if tenantID == "" {
		http.Error(w, `{"error":"X-Tenant-ID header is required"}`, http.StatusBadRequest)
		return
	}

	if len(h.clients) >= MaxStreamClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	h.ensureSubscription(tenantID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		tenantID: tenantID,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains control messages and detects disconnects.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}
	}
}

// writePump writes alerts and keepalive pings to the WebSocket.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
