// Package openai embeds text through the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hupe1980/semindex/embed"
)

// DefaultModel is text-embedding-3-small.
const DefaultModel = string(openai.SmallEmbedding3)

// Config configures a Backend.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions asks the API to shorten embeddings. Zero keeps the model default.
	Dimensions int
	HTTPClient *http.Client
}

// Backend implements embed.Backend.
type Backend struct {
	client *openai.Client
	model  string
	dims   int
}

var _ embed.Backend = (*Backend)(nil)

// New creates a Backend.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Backend{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}, nil
}

// ModelID returns the model name.
func (b *Backend) ModelID() string { return b.model }

// Load is a no-op; the model lives behind the API.
func (b *Backend) Load(context.Context) error { return nil }

// Unload is a no-op.
func (b *Backend) Unload(context.Context) error { return nil }

// Embed sends one request for the whole batch. Server-side failures are
// reported as embed.ErrBackendCrashed so the manager retries them.
func (b *Backend) Embed(ctx context.Context, texts []string) ([]float32, int, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(b.model),
		Dimensions: b.dims,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return nil, 0, fmt.Errorf("%w: openai: %v", embed.ErrBackendCrashed, err)
		}
		return nil, 0, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("openai: %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	dims := len(resp.Data[0].Embedding)
	out := make([]float32, len(texts)*dims)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, 0, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != dims {
			return nil, 0, fmt.Errorf("openai: ragged embeddings: %d and %d dims", dims, len(d.Embedding))
		}
		copy(out[d.Index*dims:], d.Embedding)
	}
	return out, dims, nil
}
