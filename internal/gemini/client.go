// Package gemini provides the process-wide clients for the Gemini
// embedding and text-generation APIs.
//
// Embeddings go through the official SDK. Streaming generation speaks
// the SSE wire protocol directly so the event framing, model fallback
// classification and cancellation stay under our control (see
// stream.go).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Config holds provider settings.
type Config struct {
	APIKey         string
	EmbedModel     string
	EmbedDimension int
	// BaseURL overrides the API endpoint. Tests point this at a local
	// server; production leaves it empty.
	BaseURL string
	Timeout time.Duration
}

// Client is safe for concurrent use and constructed once at startup.
type Client struct {
	genai      *genai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	embedModel string
	dimension  int32
	logger     *slog.Logger
}

// NewClient creates the provider client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.EmbedModel == "" {
		return nil, errors.New("gemini: embed model is required")
	}
	if cfg.EmbedDimension <= 0 {
		return nil, fmt.Errorf("gemini: invalid embed dimension %d", cfg.EmbedDimension)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	} else {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	gc, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{
		genai:      gc,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		embedModel: cfg.EmbedModel,
		dimension:  int32(cfg.EmbedDimension),
		logger:     logger,
	}, nil
}

// EmbedOne embeds a single text and returns a fixed-dimension vector.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one provider call. Vectors come back in
// input order and count; empty input yields empty output. Failures are
// surfaced as *ProviderError — retry policy belongs to callers.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := c.genai.Models.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(c.dimension),
	})
	if err != nil {
		return nil, embedError(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &ProviderError{
			StatusCode: http.StatusBadGateway,
			Status:     "BAD_RESPONSE",
			Message:    fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, &ProviderError{
				StatusCode: http.StatusBadGateway,
				Status:     "BAD_RESPONSE",
				Message:    fmt.Sprintf("empty embedding at position %d", i),
			}
		}
		vectors[i] = e.Values
	}

	return vectors, nil
}

// embedError normalizes SDK failures into *ProviderError.
func embedError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
		}
	}
	return &ProviderError{
		StatusCode: http.StatusBadGateway,
		Status:     "UNAVAILABLE",
		Message:    err.Error(),
	}
}
