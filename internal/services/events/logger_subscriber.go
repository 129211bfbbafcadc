package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

// AllEventTypes lists every event type published by the application
var AllEventTypes = []interfaces.EventType{
	interfaces.EventQueueUpdate,
	interfaces.EventItemStart,
	interfaces.EventItemComplete,
	interfaces.EventItemFail,
	interfaces.EventSystemError,
	interfaces.EventDownloadProgress,
	interfaces.EventDownloadComplete,
	interfaces.EventDownloadError,
}

// NewLoggerSubscriber creates an event handler that logs item and system events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		switch payload := event.Payload.(type) {
		case models.GenerationItem:
			logEvent := logger.Info()
			if event.Type == interfaces.EventItemFail {
				logEvent = logger.Warn().Str("error", payload.Error)
			}
			logEvent.
				Str("event_type", string(event.Type)).
				Str("item_id", payload.ID).
				Str("status", string(payload.Status)).
				Int("retry_count", payload.RetryCount).
				Msg("Queue item event")
		case models.QueueStatus:
			logger.Debug().
				Str("event_type", string(event.Type)).
				Int("queued", payload.Queued).
				Int("completed", payload.Completed).
				Int("failed", payload.Failed).
				Bool("paused", payload.IsPaused).
				Msg("Queue updated")
		case interfaces.SystemError:
			logger.Error().
				Str("source", payload.Source).
				Str("error", payload.Message).
				Msg("System error")
		case models.DownloadItem:
			logger.Info().
				Str("event_type", string(event.Type)).
				Str("download_id", payload.ID).
				Str("title", payload.Title).
				Str("status", string(payload.Status)).
				Msg("Download event")
		default:
			logger.Debug().Str("event_type", string(event.Type)).Msg("Event published")
		}
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types.
// The returned func removes every subscription.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) func() {
	subscriber := NewLoggerSubscriber(logger)

	var unsubscribers []func()
	for _, eventType := range AllEventTypes {
		if eventType == interfaces.EventDownloadProgress {
			continue
		}
		unsubscribers = append(unsubscribers, eventService.Subscribe(eventType, subscriber))
	}

	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}
}
