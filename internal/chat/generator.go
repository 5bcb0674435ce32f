package chat

import (
	"context"

	"github.com/quillvault/quill/internal/gemini"
)

// GeminiGenerator adapts *gemini.Client to the Generator interface.
type GeminiGenerator struct {
	Client *gemini.Client
}

// GenerateStream starts a generation call and returns its stream.
func (g GeminiGenerator) GenerateStream(ctx context.Context, model string, req gemini.GenerateRequest) (TextStream, error) {
	stream, err := g.Client.GenerateStream(ctx, model, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
