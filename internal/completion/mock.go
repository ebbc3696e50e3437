package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockClient produces deterministic local replies when no provider credential
// is configured, streaming word by word so the surfaces still exercise their
// incremental paths.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, wrapTransport(ctx, ctx.Err())
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil {
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			if err := onDelta(w); err != nil {
				return Reply{}, err
			}
		}
	}
	return Reply{Text: text}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.UserText)
	if base == "" {
		base = "I am listening."
	}

	if len(req.Context) == 0 {
		return fmt.Sprintf("You said: %s", base)
	}

	last := strings.TrimSpace(req.Context[len(req.Context)-1].Text)
	if last == "" {
		return fmt.Sprintf("You said: %s", base)
	}
	return fmt.Sprintf("You said: %s\nEarlier you told me: %s", base, last)
}
