package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventQueueUpdate carries a models.QueueStatus after every queue mutation
	EventQueueUpdate EventType = "update"
	// EventItemStart carries the models.GenerationItem handed to the generator
	EventItemStart EventType = "item_start"
	// EventItemComplete carries the completed models.GenerationItem
	EventItemComplete EventType = "item_complete"
	// EventItemFail carries the failed models.GenerationItem
	EventItemFail EventType = "item_fail"
	// EventSystemError carries a SystemError for failures outside any item
	EventSystemError EventType = "system_error"

	EventDownloadProgress EventType = "download_progress"
	EventDownloadComplete EventType = "download_complete"
	EventDownloadError    EventType = "download_error"
)

// Event represents a system event
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// SystemError is the payload of EventSystemError
type SystemError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the observer registry.
// Handlers run synchronously on the publishing goroutine, in subscription order.
type EventService interface {
	// Subscribe registers handler for eventType and returns an idempotent unsubscribe func
	Subscribe(eventType EventType, handler EventHandler) func()

	// Publish delivers event to every handler registered at the time of the call
	Publish(ctx context.Context, event Event) error

	// SubscriberCount returns the number of handlers registered for eventType
	SubscriberCount(eventType EventType) int

	// Close removes every subscription
	Close() error
}
