// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 9:43:03 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// forwardedEvents are relayed to every client unless filtered by the whitelist
var forwardedEvents = []interfaces.EventType{
	interfaces.EventQueueUpdate,
	interfaces.EventItemStart,
	interfaces.EventItemComplete,
	interfaces.EventItemFail,
	interfaces.EventSystemError,
	interfaces.EventDownloadProgress,
	interfaces.EventDownloadComplete,
	interfaces.EventDownloadError,
}

// WSMessage is the envelope of every message sent to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ConnectedPayload is sent once per connection before the initial status
type ConnectedPayload struct {
	ServerInstanceID string `json:"server_instance_id"`
	Version          string `json:"version"`
}

// StatusSource supplies the queue snapshot sent on connect
type StatusSource interface {
	GetStatus() models.QueueStatus
}

type WebSocketHandler struct {
	logger        arbor.ILogger
	clients       map[*websocket.Conn]bool
	clientMutex   map[*websocket.Conn]*sync.Mutex
	mu            sync.RWMutex
	eventService  interfaces.EventService
	status        StatusSource
	allowedEvents map[string]bool // Whitelist of events to broadcast (empty = allow all)

	// Per-download limiters for download_progress; nil map = no throttling
	progressEvery    time.Duration
	progressMu       sync.Mutex
	progressLimiters map[string]*rate.Limiter

	serverInstanceID string // Clients use it to detect a server restart
	unsubscribers    []func()
}

func NewWebSocketHandler(eventService interfaces.EventService, status StatusSource, instanceID string, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		status:           status,
		allowedEvents:    make(map[string]bool),
		serverInstanceID: instanceID,
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		if config.ProgressThrottle != "" {
			if every, err := time.ParseDuration(config.ProgressThrottle); err == nil && every > 0 {
				h.progressEvery = every
				h.progressLimiters = make(map[string]*rate.Limiter)
			} else if err != nil {
				logger.Warn().
					Err(err).
					Str("interval", config.ProgressThrottle).
					Msg("Failed to parse download_progress throttle interval - throttler disabled")
			}
		}
	}

	if eventService != nil {
		h.subscribe()
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Int("allowed_events", len(h.allowedEvents)).
		Dur("progress_throttle", h.progressEvery).
		Msg("WebSocket handler initialized")

	return h
}

func (h *WebSocketHandler) subscribe() {
	for _, eventType := range forwardedEvents {
		if len(h.allowedEvents) > 0 && !h.allowedEvents[string(eventType)] {
			continue
		}
		h.unsubscribers = append(h.unsubscribers, h.eventService.Subscribe(eventType, h.forward))
	}
}

func (h *WebSocketHandler) forward(ctx context.Context, event interfaces.Event) error {
	switch event.Type {
	case interfaces.EventDownloadProgress:
		if progress, ok := event.Payload.(models.DownloadProgress); ok && !h.allowProgress(progress) {
			return nil
		}
	case interfaces.EventDownloadComplete, interfaces.EventDownloadError:
		if item, ok := event.Payload.(models.DownloadItem); ok {
			h.forgetProgress(item.ID)
		}
	}

	h.Broadcast(WSMessage{Type: string(event.Type), Payload: event.Payload})
	return nil
}

// allowProgress drops intermediate progress updates faster than the throttle. The final 100% always passes.
func (h *WebSocketHandler) allowProgress(progress models.DownloadProgress) bool {
	if h.progressLimiters == nil || progress.Progress >= 100 {
		return true
	}

	h.progressMu.Lock()
	limiter, ok := h.progressLimiters[progress.ID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.progressEvery), 1)
		h.progressLimiters[progress.ID] = limiter
	}
	h.progressMu.Unlock()

	return limiter.Allow()
}

func (h *WebSocketHandler) forgetProgress(id string) {
	if h.progressLimiters == nil {
		return
	}
	h.progressMu.Lock()
	delete(h.progressLimiters, id)
	h.progressMu.Unlock()
}

// HandleWebSocket upgrades the connection, sends the current status and holds it open until the client leaves
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{
		Type:    "connected",
		Payload: ConnectedPayload{ServerInstanceID: h.serverInstanceID, Version: common.GetVersion()},
	})
	if h.status != nil {
		h.send(conn, mutex, WSMessage{Type: string(interfaces.EventQueueUpdate), Payload: h.status.GetStatus()})
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	h.write(conn, mutex, data)
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) {
	mutex.Lock()
	defer mutex.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send WebSocket message")
	}
}

// Broadcast sends msg to every connected client
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		h.write(conn, mutexes[i], data)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches from the event service and disconnects every client
func (h *WebSocketHandler) Close() error {
	for _, unsubscribe := range h.unsubscribers {
		unsubscribe()
	}
	h.unsubscribers = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		mutex := h.clientMutex[conn]
		mutex.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		mutex.Unlock()
		conn.Close()
	}
	return nil
}
