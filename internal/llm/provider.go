package llm

import (
	"context"
	"fmt"

	"github.com/bvergne/docrag/internal/config"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider abstracts a generation and embedding backend. Consumers such as
// the query engine and the ingestion pipeline use this interface instead of
// depending on a concrete client. The backend is selected once at startup
// via configuration, never per call.
type Provider interface {
	// Generate sends messages to the chat model and returns the full
	// assistant response.
	Generate(ctx context.Context, messages []Message) (string, error)

	// Stream sends messages to the chat model and invokes fn for each
	// response token in order. A non-nil error from fn stops the stream
	// and is returned unchanged.
	Stream(ctx context.Context, messages []Message, fn func(token string) error) error

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// New constructs the Provider named by cfg.Provider.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.ChatModel, cfg.EmbedModel), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
