package openrouter

import (
	"context"

	"image-edit-service/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ImageGenerationAdapter = (*limitedImageGen)(nil)

type limitedImageGen struct {
	inner adapter.ImageGenerationAdapter
	sem   chan struct{}
}

// NewLimitedImageGen bounds the number of in-flight upstream generations so
// a burst of jobs cannot exhaust provider rate limits or local sockets.
func NewLimitedImageGen(inner adapter.ImageGenerationAdapter, maxConcurrent int) adapter.ImageGenerationAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedImageGen{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedImageGen) GenerateImage(ctx context.Context, req adapter.GenerationRequest) ([]byte, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.GenerateImage(ctx, req)
}
