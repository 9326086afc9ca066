package adapter

import "context"

// GenerationRequest describes one upstream image-edit call. It is ephemeral
// and never persisted; URLs are short-lived signed reads issued per call.
type GenerationRequest struct {
	Prompt       string
	InitialURL   string
	ReferenceURL string
	Model        string
	// Headers are provider attribution headers (e.g. HTTP-Referer, X-Title).
	Headers map[string]string
	// ExtraParams are provider-specific body parameters merged verbatim
	// into the request payload.
	ExtraParams map[string]any
}

// ImageGenerationAdapter is the port for the upstream multimodal provider.
// Implementations absorb transient failures through their own bounded retry
// and surface either raw image bytes or a domain failure
// (ActionableError / exhausted TransientError).
type ImageGenerationAdapter interface {
	GenerateImage(ctx context.Context, req GenerationRequest) ([]byte, error)
}
