package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local UI only
	},
}

// WSMessage is the envelope of every message sent to a client
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient is one websocket connection. Descriptor callbacks run on the
// orchestrator goroutine, so they only ever do a non-blocking enqueue.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	seen bool // an update was queued, the initial snapshot is stale
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

// enqueue queues data without blocking; a client that cannot keep up is dropped
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

// WebSocketHandler streams job descriptor updates to UI clients.
// GET /ws?resource={id} follows one resource; without it every job of the
// signed-in user is streamed.
type WebSocketHandler struct {
	jobs         JobSubscriber
	eventService interfaces.EventService
	sendBuffer   int
	logger       arbor.ILogger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(jobs JobSubscriber, eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	sendBuffer := 64
	if config != nil && config.SendBuffer > 0 {
		sendBuffer = config.SendBuffer
	}
	h := &WebSocketHandler{
		jobs:         jobs,
		eventService: eventService,
		sendBuffer:   sendBuffer,
		logger:       logger,
		clients:      make(map[string]*wsClient),
	}

	if eventService != nil {
		if _, err := eventService.Subscribe(interfaces.EventSessionInvalidated, h.handleSessionInvalidated); err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe to session events")
		}
	}
	return h
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	resourceID := r.URL.Query().Get("resource")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		quit: make(chan struct{}),
	}

	onUpdate := func(desc *models.JobDescriptor) {
		data, err := json.Marshal(WSMessage{Type: "job_updated", Payload: desc})
		if err != nil {
			return
		}
		client.mu.Lock()
		client.seen = true
		client.mu.Unlock()
		if !client.enqueue(data) {
			h.logger.Debug().Str("client_id", client.id).Msg("WebSocket client dropped")
		}
	}

	var unsubscribe func()
	if resourceID != "" {
		unsubscribe, err = h.jobs.Subscribe(resourceID, onUpdate)
	} else {
		unsubscribe, err = h.jobs.SubscribeAll(onUpdate)
	}
	if err != nil {
		reason := "subscribe failed"
		if errors.Is(err, interfaces.ErrSessionInvalid) {
			reason = "session invalid"
			h.logger.Debug().Str("client_id", client.id).Msg("WebSocket client rejected, no session")
		} else {
			h.logger.Error().Err(err).Msg("Failed to subscribe WebSocket client")
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[client.id] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("client_id", client.id).
		Str("resource_id", resourceID).
		Int("clients", count).
		Msg("WebSocket client connected")

	defer func() {
		unsubscribe()
		client.close()

		h.mu.Lock()
		delete(h.clients, client.id)
		remaining := len(h.clients)
		h.mu.Unlock()

		h.logger.Debug().Str("client_id", client.id).Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	if resourceID != "" {
		h.sendSnapshot(r.Context(), client, resourceID)
	}

	common.SafeGo(h.logger, "ws-writer", func() { h.writeLoop(client) })

	// Read until the client goes away; incoming messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// sendSnapshot queues the last known state unless a live update beat it
func (h *WebSocketHandler) sendSnapshot(ctx context.Context, client *wsClient, resourceID string) {
	desc, err := h.jobs.GetLastKnownState(ctx, resourceID)
	if err != nil {
		return
	}
	data, err := json.Marshal(WSMessage{Type: "job_updated", Payload: desc})
	if err != nil {
		return
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.seen {
		client.enqueue(data)
	}
}

func (h *WebSocketHandler) writeLoop(client *wsClient) {
	for {
		select {
		case data := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				client.close()
				return
			}
		case <-client.quit:
			return
		}
	}
}

func (h *WebSocketHandler) handleSessionInvalidated(ctx context.Context, event interfaces.Event) error {
	reason, _ := event.Payload.(string)
	data, err := json.Marshal(WSMessage{Type: "session_invalidated", Payload: map[string]string{"reason": reason}})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(data)
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
