package llm

import (
	"context"
	"crypto/sha256"
	"strings"
)

const mockEmbedDim = 768

// Mock is a deterministic Provider used by tests and offline development.
// Generate and Stream produce the same text for the same input, and Embed
// derives a stable vector from the text so that identical texts are
// neighbors and different texts are not.
type Mock struct {
	// Response overrides the generated text when non-empty.
	Response string
}

// NewMock returns a Mock provider with default canned behavior.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) answer(messages []Message) string {
	if m.Response != "" {
		return m.Response
	}
	last := ""
	for _, msg := range messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	if last == "" {
		return "mock response"
	}
	return "mock response to: " + firstLine(last)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func (m *Mock) Generate(_ context.Context, messages []Message) (string, error) {
	return m.answer(messages), nil
}

func (m *Mock) Stream(ctx context.Context, messages []Message, fn func(token string) error) error {
	answer := m.answer(messages)
	// Emit word-sized tokens, preserving separators so that the
	// concatenation equals the Generate output exactly.
	for len(answer) > 0 {
		i := strings.IndexByte(answer, ' ')
		var token string
		if i < 0 {
			token, answer = answer, ""
		} else {
			token, answer = answer[:i+1], answer[i+1:]
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(token); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	vec := make([]float32, mockEmbedDim)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])/255.0 - 0.5
	}
	return vec, nil
}

func (m *Mock) IsRunning(context.Context) bool { return true }
