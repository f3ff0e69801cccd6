package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/newswire/config"
	openai_provider "github.com/mohammad-safakhou/newswire/internal/provider/openai"
)

// Provider is the interface all embedding/generation backends must satisfy.
// Stream delivers completion chunks in arrival order through onChunk; it
// returns when the stream ends, the context is cancelled, or onChunk reports
// an error (which aborts the stream).
type Provider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	Stream(ctx context.Context, system, user string, onChunk func(string) error) error
}

// New creates the configured provider. Only OpenAI-compatible endpoints are
// implemented; the base URL can point at any server speaking the same API.
func New(cfg config.OpenAIConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers.openai.api_key not configured")
	}
	return openai_provider.NewClient(cfg), nil
}
