package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/tarunkv/recall/internal/memory"
)

// Request is the normalized completion request for one exchange. Context
// carries the windowed conversation history; UserText is the new user turn.
type Request struct {
	SessionID string
	TurnID    string
	UserText  string
	Context   []memory.Turn
}

// Reply is the assembled response after all deltas have been streamed.
type Reply struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments in arrival order. Returning
// an error stops consumption of the stream.
type DeltaHandler func(delta string) error

// Client streams one model reply per call. It never mutates conversation
// memory; the caller appends the user turn and the assembled reply once the
// stream is exhausted.
type Client interface {
	StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error)
}

// Config controls client construction. The credential is injected here and
// never read from ambient state by the providers themselves.
type Config struct {
	Provider        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	Model           string
	SystemPrompt    string
	Temperature     float64
	MaxTokens       int
}

// NewClient selects a provider by mode: auto prefers OpenAI when its key is
// set, then Anthropic, and falls back to the deterministic mock.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
			return NewOpenAIClient(cfg), nil
		}
		if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
			return NewAnthropicClient(cfg), nil
		}
		return NewMockClient(), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, &Error{Kind: KindAuth, Err: errMissingOpenAIKey}
		}
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, &Error{Kind: KindAuth, Err: errMissingAnthropicKey}
		}
		return NewAnthropicClient(cfg), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}

// DescribeClient names the resolved provider for startup logs.
func DescribeClient(c Client) string {
	switch c.(type) {
	case *OpenAIClient:
		return "openai"
	case *AnthropicClient:
		return "anthropic"
	case *MockClient:
		return "mock"
	default:
		return "custom"
	}
}
