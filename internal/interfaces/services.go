package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/flowqueue/internal/models"
)

// ErrQueueDraining is returned when an operation needs the queue to be idle
var ErrQueueDraining = errors.New("queue is processing")

// QueueService is the control surface of the generation queue
type QueueService interface {
	AddPrompts(prompts []string) []models.GenerationItem
	Start()
	Pause()
	Resume()
	ClearCompleted()
	ClearAll()
	RetryFailed()
	RetryItem(id string) bool
	GetStatus() models.QueueStatus
	GetItem(id string) (models.GenerationItem, bool)
}

// SessionService is the lifecycle surface of the automation session
type SessionService interface {
	Initialize(ctx context.Context, cookies *models.CookieSet, headless bool) error
	VerifyAuthenticated(ctx context.Context) bool
	IsReady() bool
	CurrentURL(ctx context.Context) string
	Teardown()
}

// CookieService imports and holds the session credential
type CookieService interface {
	Import(ctx context.Context, data []byte) (*models.CookieSet, error)
	Current() *models.CookieSet
	Status() models.CookieStatus
	Clear(ctx context.Context) error
}

// DownloadService wraps the external media extractor
type DownloadService interface {
	Download(ctx context.Context, url string) (*models.DownloadItem, error)
	Enqueue(ctx context.Context, url string) (*models.DownloadItem, error)
	Cancel(id string) bool
	List() []models.DownloadItem
}

// ChatService relays chat completions to a local language-model server
type ChatService interface {
	Stream(ctx context.Context, messages []models.ChatMessage) (<-chan models.ChatChunk, error)
}
