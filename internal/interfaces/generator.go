package interfaces

import (
	"context"

	"github.com/ternarybob/flowqueue/internal/models"
)

// Generator turns one queued prompt into an artifact.
// It is the queue's only view of the automation session.
type Generator interface {
	Generate(ctx context.Context, item models.GenerationItem) (artifactPath string, err error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, item models.GenerationItem) (string, error)

// Generate calls f(ctx, item)
func (f GeneratorFunc) Generate(ctx context.Context, item models.GenerationItem) (string, error) {
	return f(ctx, item)
}
