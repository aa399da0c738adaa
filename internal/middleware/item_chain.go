package middleware

import (
	"context"

	"github.com/IshaanNene/webstalk/internal/pipeline"
	"github.com/IshaanNene/webstalk/internal/types"
)

// PipelineAdapter wraps an internal/pipeline.Middleware as an
// ItemMiddleware, letting the Item Pipeline's existing built-ins
// (TrimMiddleware, RequiredFieldsMiddleware, HTMLSanitizeMiddleware, and
// the rest) register directly on the Manager's item chain instead of
// needing a second, parallel pipeline abstraction.
type PipelineAdapter struct {
	inner pipeline.Middleware
}

// AdaptPipeline wraps mw for registration on a Manager.
func AdaptPipeline(mw pipeline.Middleware) *PipelineAdapter {
	return &PipelineAdapter{inner: mw}
}

// ProcessItem implements ItemMiddleware.
func (a *PipelineAdapter) ProcessItem(ctx context.Context, item *types.Item) (*types.Item, error) {
	return a.inner.Process(item)
}

// Name exposes the wrapped middleware's name for logging/introspection.
func (a *PipelineAdapter) Name() string { return a.inner.Name() }
