package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tarunkv/recall/internal/memory"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicClient streams replies through the official Anthropic SDK.
type AnthropicClient struct {
	client      anthropic.Client
	model       anthropic.Model
	system      string
	temperature float64
	maxTokens   int64
}

func NewAnthropicClient(cfg Config) *AnthropicClient {
	model := anthropic.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_0
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:       model,
		system:      cfg.SystemPrompt,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (c *AnthropicClient) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    c.buildMessages(req),
		Temperature: anthropic.Float(c.temperature),
	}
	if strings.TrimSpace(c.system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	var out strings.Builder
	for stream.Next() {
		event := stream.Current()
		deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}
		out.WriteString(textDelta.Text)
		if onDelta != nil {
			if err := onDelta(textDelta.Text); err != nil {
				return Reply{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Reply{}, classifyAnthropicErr(ctx, err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return Reply{}, &Error{Kind: KindEmptyResponse, Err: fmt.Errorf("stream produced no text")}
	}
	return Reply{Text: out.String()}, nil
}

func (c *AnthropicClient) buildMessages(req Request) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(req.Context)+1)
	for _, t := range req.Context {
		if t.Role == memory.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
	}
	return append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserText)))
}

func classifyAnthropicErr(ctx context.Context, err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return wrapStatus(apiErr.StatusCode, err)
	}
	return wrapTransport(ctx, err)
}
