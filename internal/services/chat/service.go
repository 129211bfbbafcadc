package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/httpclient"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

// ErrNoMessages is returned when Stream is called with an empty conversation
var ErrNoMessages = errors.New("at least one message is required")

// Ollama replies are one JSON object per line
const maxLineSize = 1024 * 1024

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type chatResponseLine struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Service relays conversations to an Ollama-compatible /api/chat endpoint
type Service struct {
	client   *http.Client
	endpoint string
	model    string
	logger   arbor.ILogger
}

var _ interfaces.ChatService = (*Service)(nil)

// NewService creates a relay from the [chat] config section
func NewService(config *common.ChatConfig, logger arbor.ILogger) *Service {
	timeout := common.ParseDuration(config.Timeout, 5*time.Minute)
	return &Service{
		client:   httpclient.NewStreamingHTTPClient(timeout, 60*time.Second),
		endpoint: config.Endpoint,
		model:    config.Model,
		logger:   logger,
	}
}

// Model returns the configured model name
func (s *Service) Model() string {
	return s.model
}

// Stream sends messages and returns the reply as a channel of chunks.
// Request-level failures are returned directly; failures after the response
// starts arrive as a final chunk with Error set. The channel is closed after
// the Done or Error chunk.
func (s *Service) Stream(ctx context.Context, messages []models.ChatMessage) (<-chan models.ChatChunk, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	body, err := json.Marshal(chatRequest{Model: s.model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug().
		Str("endpoint", s.endpoint).
		Str("model", s.model).
		Int("messages", len(messages)).
		Msg("Sending chat request")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("LLM request failed: %s", resp.Status)
	}

	chunks := make(chan models.ChatChunk)
	go s.relay(ctx, resp, chunks)
	return chunks, nil
}

func (s *Service) relay(ctx context.Context, resp *http.Response, chunks chan<- models.ChatChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	send := func(chunk models.ChatChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var parsed chatResponseLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			continue // partial or non-JSON lines are skipped
		}
		if parsed.Error != "" {
			send(models.ChatChunk{Error: parsed.Error})
			return
		}
		if parsed.Message.Content != "" {
			if !send(models.ChatChunk{Content: parsed.Message.Content}) {
				return
			}
		}
		if parsed.Done {
			send(models.ChatChunk{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("Chat stream interrupted")
		send(models.ChatChunk{Error: err.Error()})
		return
	}
	send(models.ChatChunk{Done: true})
}

// Collect drains a chunk stream into a single reply
func Collect(chunks <-chan models.ChatChunk) (string, error) {
	var buf bytes.Buffer
	for chunk := range chunks {
		if chunk.Error != "" {
			return buf.String(), errors.New(chunk.Error)
		}
		buf.WriteString(chunk.Content)
	}
	return buf.String(), nil
}
