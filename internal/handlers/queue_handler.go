package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/services/prompts"
)

// QueueHandler exposes the generation queue controls
type QueueHandler struct {
	queue  interfaces.QueueService
	logger arbor.ILogger
}

func NewQueueHandler(queue interfaces.QueueService, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{queue: queue, logger: logger}
}

// AddPromptsRequest carries either an explicit list or a raw document to parse
type AddPromptsRequest struct {
	Prompts []string `json:"prompts"`
	Text    string   `json:"text"`
	Format  string   `json:"format"` // text, csv, yaml or json; empty = text
}

// StatusHandler handles GET /api/queue
func (h *QueueHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.queue.GetStatus())
}

// AddPromptsHandler handles POST /api/queue/prompts
func (h *QueueHandler) AddPromptsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req AddPromptsRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	list := prompts.Clean(req.Prompts)
	if req.Text != "" {
		format, err := prompts.ParseFormat(req.Format)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		parsed, err := prompts.Parse([]byte(req.Text), format)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		list = append(list, parsed...)
	}

	items := h.queue.AddPrompts(list)
	h.logger.Info().Int("added", len(items)).Msg("Prompts added to queue")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"added": items,
		"queue": h.queue.GetStatus(),
	})
}

// ActionHandler handles POST /api/queue/{action} and POST /api/queue/items/{id}/retry
func (h *QueueHandler) ActionHandler(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/queue/")

	if len(segments) == 3 && segments[0] == "items" && segments[2] == "retry" {
		h.retryItem(w, r, segments[1])
		return
	}
	if len(segments) == 2 && segments[0] == "items" {
		h.getItem(w, r, segments[1])
		return
	}
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "unknown queue route")
		return
	}

	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	action := segments[0]
	switch action {
	case "start":
		h.queue.Start()
	case "pause":
		h.queue.Pause()
	case "resume":
		h.queue.Resume()
	case "retry-failed":
		h.queue.RetryFailed()
	case "clear-completed":
		h.queue.ClearCompleted()
	case "clear-all":
		h.queue.ClearAll()
	default:
		WriteError(w, http.StatusNotFound, "unknown queue action: "+action)
		return
	}

	h.logger.Debug().Str("action", action).Msg("Queue action applied")
	WriteJSON(w, http.StatusOK, h.queue.GetStatus())
}

func (h *QueueHandler) retryItem(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.queue.RetryItem(id) {
		WriteError(w, http.StatusNotFound, "no failed item with id "+id)
		return
	}
	item, _ := h.queue.GetItem(id)
	WriteJSON(w, http.StatusOK, item)
}

func (h *QueueHandler) getItem(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	item, ok := h.queue.GetItem(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "item not found")
		return
	}
	WriteJSON(w, http.StatusOK, item)
}
