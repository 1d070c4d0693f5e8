// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mdt-discovery/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents one WebSocket subscriber.
type Client struct {
	ID          string
	Connection  *websocket.Conn
	Send        chan []byte
	Done        chan struct{}
	Events      <-chan Event
	RemoteAddr  string
	ConnectedAt time.Time
}

// WebSocketHandler streams scan lifecycle events to connected clients so
// an upstream control panel can follow scan progress live.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	eventBus *EventBus
	logger   *utils.ServiceLogger

	mutex   sync.RWMutex
	clients map[string]*Client
}

// NewWebSocketHandler creates a WebSocket handler bound to an event bus.
func NewWebSocketHandler(eventBus *EventBus, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		eventBus: eventBus,
		logger:   utils.NewServiceLogger(logger, "websocket-handler"),
		clients:  make(map[string]*Client),
	}
}

// HandleEventConnection upgrades the connection and streams every scan
// event to the client until it disconnects.
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Done:        make(chan struct{}),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	client.Events = h.eventBus.Subscribe("*")

	h.register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.pumpEvents(client)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// pumpEvents forwards bus events into the client's send queue. Ends when
// the client disconnects or its subscription is closed.
func (h *WebSocketHandler) pumpEvents(client *Client) {
	for {
		select {
		case <-client.Done:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to encode event", zap.Error(err))
				continue
			}
			select {
			case <-client.Done:
				return
			case client.Send <- payload:
			default:
				// Client is slow, drop the event rather than block the bus.
			}
		}
	}
}

// handleClientRead drains inbound frames and detects disconnects.
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer h.unregister(client)

	client.Connection.SetReadLimit(512)
	_ = client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		return client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.Connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// handleClientWrite pumps queued payloads and keepalive pings.
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case <-client.Done:
			_ = client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-client.Send:
			_ = client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) register(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client.ID] = client
}

func (h *WebSocketHandler) unregister(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Done)
		h.eventBus.Unsubscribe("*", client.Events)
		client.Connection.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.ID))
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
