package automation

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

// Generator adapts the session to the queue: generate, then download when a download dir is set
type Generator struct {
	session      *Session
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewGenerator creates the queue-facing generator. eventService may be nil.
func NewGenerator(session *Session, eventService interfaces.EventService, logger arbor.ILogger) *Generator {
	return &Generator{session: session, eventService: eventService, logger: logger}
}

// Generate runs one item through the session and returns the artifact location
func (g *Generator) Generate(ctx context.Context, item models.GenerationItem) (string, error) {
	result, err := g.session.GenerateVideo(ctx, item.Prompt)
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			g.publishSystemError(ctx, err)
		}
		return "", err
	}

	downloadDir := g.session.Config().DownloadDir
	if downloadDir == "" {
		return result.ArtifactPath, nil
	}

	path, err := g.session.RetrieveArtifact(ctx, filepath.Join(downloadDir, item.ID+".mp4"))
	if err != nil {
		g.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Video generated but download failed")
		return "", err
	}
	return path, nil
}

func (g *Generator) publishSystemError(ctx context.Context, err error) {
	if g.eventService == nil {
		return
	}
	_ = g.eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventSystemError,
		Payload: interfaces.SystemError{Source: "session", Message: err.Error()},
	})
}
