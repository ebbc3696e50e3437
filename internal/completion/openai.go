package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tarunkv/recall/internal/memory"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIClient streams chat completions over the OpenAI-compatible SSE wire
// format. The HTTP client carries no timeout; deadlines come from the
// caller's context so streams of any length stay valid.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	system      string
	temperature float64
	client      *http.Client
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		apiKey:      cfg.OpenAIAPIKey,
		baseURL:     baseURL,
		model:       model,
		system:      cfg.SystemPrompt,
		temperature: cfg.Temperature,
		client:      &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    c.buildMessages(req),
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Reply{}, wrapTransport(ctx, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, wrapStatus(res.StatusCode, fmt.Errorf("completion endpoint status %d: %s", res.StatusCode, string(body)))
	}

	reply, err := c.consumeSSE(ctx, res.Body, onDelta)
	if err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		return Reply{}, &Error{Kind: KindEmptyResponse, Err: fmt.Errorf("stream produced no text")}
	}
	return reply, nil
}

func (c *OpenAIClient) buildMessages(req Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.Context)+2)
	if strings.TrimSpace(c.system) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: c.system})
	}
	for _, t := range req.Context {
		msgs = append(msgs, chatMessage{Role: string(t.Role), Content: t.Text})
	}
	return append(msgs, chatMessage{Role: string(memory.RoleUser), Content: req.UserText})
}

func (c *OpenAIClient) consumeSSE(ctx context.Context, body io.Reader, onDelta DeltaHandler) (Reply, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Tolerate unknown frames; providers interleave metadata events.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Reply{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Reply{}, wrapTransport(ctx, fmt.Errorf("stream read: %w", err))
	}

	return Reply{Text: out.String()}, nil
}
