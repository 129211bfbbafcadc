package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
	"github.com/ternarybob/flowqueue/internal/services/events"
)

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type staticStatus models.QueueStatus

func (s staticStatus) GetStatus() models.QueueStatus { return models.QueueStatus(s) }

func dialHandler(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg rawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readGreeting consumes the connected and initial status messages
func readGreeting(t *testing.T, conn *websocket.Conn) models.QueueStatus {
	t.Helper()
	connected := readMessage(t, conn)
	require.Equal(t, "connected", connected.Type)

	update := readMessage(t, conn)
	require.Equal(t, string(interfaces.EventQueueUpdate), update.Type)
	var status models.QueueStatus
	require.NoError(t, json.Unmarshal(update.Payload, &status))
	return status
}

func publishEvent(t *testing.T, svc interfaces.EventService, eventType interfaces.EventType, payload interface{}) {
	t.Helper()
	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}))
}

func TestWebSocket_SendsStatusOnConnect(t *testing.T) {
	eventService := events.NewService(arbor.NewNoOpLogger())
	handler := NewWebSocketHandler(eventService, staticStatus{Total: 2, Queued: 2, IsPaused: true}, "instance-1", arbor.NewNoOpLogger(), &common.WebSocketConfig{})
	defer handler.Close()

	conn := dialHandler(t, handler)

	connected := readMessage(t, conn)
	assert.Equal(t, "connected", connected.Type)
	var payload ConnectedPayload
	require.NoError(t, json.Unmarshal(connected.Payload, &payload))
	assert.Equal(t, "instance-1", payload.ServerInstanceID)

	update := readMessage(t, conn)
	var status models.QueueStatus
	require.NoError(t, json.Unmarshal(update.Payload, &status))
	assert.Equal(t, 2, status.Queued)
	assert.True(t, status.IsPaused)
}

func TestWebSocket_ForwardsEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewNoOpLogger())
	handler := NewWebSocketHandler(eventService, staticStatus{}, "id", arbor.NewNoOpLogger(), &common.WebSocketConfig{})
	defer handler.Close()

	conn := dialHandler(t, handler)
	readGreeting(t, conn)

	publishEvent(t, eventService, interfaces.EventItemStart, models.GenerationItem{ID: "a", Prompt: "a cat"})
	publishEvent(t, eventService, interfaces.EventItemFail, models.GenerationItem{ID: "a", Error: "boom"})

	start := readMessage(t, conn)
	assert.Equal(t, "item_start", start.Type)
	var item models.GenerationItem
	require.NoError(t, json.Unmarshal(start.Payload, &item))
	assert.Equal(t, "a cat", item.Prompt)

	fail := readMessage(t, conn)
	assert.Equal(t, "item_fail", fail.Type)
	require.NoError(t, json.Unmarshal(fail.Payload, &item))
	assert.Equal(t, "boom", item.Error)
}

func TestWebSocket_HonoursAllowedEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewNoOpLogger())
	handler := NewWebSocketHandler(eventService, staticStatus{}, "id", arbor.NewNoOpLogger(), &common.WebSocketConfig{
		AllowedEvents: []string{"item_fail"},
	})
	defer handler.Close()

	assert.Equal(t, 0, eventService.SubscriberCount(interfaces.EventItemStart))
	assert.Equal(t, 1, eventService.SubscriberCount(interfaces.EventItemFail))

	conn := dialHandler(t, handler)
	readGreeting(t, conn)

	publishEvent(t, eventService, interfaces.EventItemStart, models.GenerationItem{ID: "a"})
	publishEvent(t, eventService, interfaces.EventItemFail, models.GenerationItem{ID: "a"})

	assert.Equal(t, "item_fail", readMessage(t, conn).Type)
}

func TestWebSocket_ThrottlesDownloadProgress(t *testing.T) {
	eventService := events.NewService(arbor.NewNoOpLogger())
	handler := NewWebSocketHandler(eventService, staticStatus{}, "id", arbor.NewNoOpLogger(), &common.WebSocketConfig{
		ProgressThrottle: "1h",
	})
	defer handler.Close()

	conn := dialHandler(t, handler)
	readGreeting(t, conn)

	for _, p := range []int{10, 20, 30, 100} {
		publishEvent(t, eventService, interfaces.EventDownloadProgress, models.DownloadProgress{ID: "dl", Progress: p})
	}

	var progress models.DownloadProgress
	first := readMessage(t, conn)
	require.NoError(t, json.Unmarshal(first.Payload, &progress))
	assert.Equal(t, 10, progress.Progress)

	last := readMessage(t, conn)
	require.NoError(t, json.Unmarshal(last.Payload, &progress))
	assert.Equal(t, 100, progress.Progress)
}

func TestWebSocket_BroadcastsToEveryClient(t *testing.T) {
	eventService := events.NewService(arbor.NewNoOpLogger())
	handler := NewWebSocketHandler(eventService, staticStatus{}, "id", arbor.NewNoOpLogger(), &common.WebSocketConfig{})
	defer handler.Close()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dialHandler(t, handler)
		readGreeting(t, conns[i])
	}
	assert.Equal(t, 3, handler.ClientCount())

	publishEvent(t, eventService, interfaces.EventSystemError, interfaces.SystemError{Source: "session", Message: "launch failed"})

	for _, conn := range conns {
		msg := readMessage(t, conn)
		assert.Equal(t, "system_error", msg.Type)
	}
}

func TestWebSocket_CloseUnsubscribes(t *testing.T) {
	eventService := events.NewService(arbor.NewNoOpLogger())
	handler := NewWebSocketHandler(eventService, staticStatus{}, "id", arbor.NewNoOpLogger(), nil)
	require.Equal(t, 1, eventService.SubscriberCount(interfaces.EventQueueUpdate))

	require.NoError(t, handler.Close())
	assert.Equal(t, 0, eventService.SubscriberCount(interfaces.EventQueueUpdate))
}
