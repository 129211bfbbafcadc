package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService interfaces.ChatService
	logger      arbor.ILogger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	chatService interfaces.ChatService,
	logger arbor.ILogger,
) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

type chatLine struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChatHandler handles POST /api/chat, streaming the reply as NDJSON lines
func (h *ChatHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req chatRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to decode chat request")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	chunks, err := h.chatService.Stream(r.Context(), req.Messages)
	if err != nil {
		h.logger.Warn().Err(err).Int("messages", len(req.Messages)).Msg("Chat request failed")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)

	for chunk := range chunks {
		line := chatLine{Content: chunk.Content, Done: chunk.Done, Error: chunk.Error}
		if err := encoder.Encode(line); err != nil {
			h.logger.Debug().Err(err).Msg("Chat client went away")
			// keep draining so the relay goroutine can exit
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
