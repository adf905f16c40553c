package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

// HTTPCompleter speaks the plain chat-completion contract:
// {messages, context} in, {message, creditsUsed} out. Used when the
// deployment fronts its own completion gateway instead of Ark.
type HTTPCompleter struct {
	url    string
	client *http.Client
}

// NewHTTPCompleter builds the client.
func NewHTTPCompleter(url string) *HTTPCompleter {
	return &HTTPCompleter{
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// StreamingEnabled is always false for the plain gateway.
func (c *HTTPCompleter) StreamingEnabled() bool { return false }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete posts the conversation and normalizes the reply.
func (c *HTTPCompleter) Complete(ctx context.Context, req Request) (*Result, error) {
	messages := make([]wireMessage, 0, len(req.History)+1)
	for _, msg := range req.History {
		if msg.IsPlaceholder() || msg.Failed {
			continue
		}
		messages = append(messages, wireMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, wireMessage{Role: chat.RoleUser, Content: req.UserMessage})

	payload := map[string]any{"messages": messages}
	if !req.Context.IsZero() {
		payload["context"] = req.Context
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrCompletionFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrCompletionFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrCompletionFailed, resp.StatusCode, snippet)
	}

	var out struct {
		Message     string `json:"message"`
		CreditsUsed int    `json:"creditsUsed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrCompletionFailed, err)
	}
	if out.Message == "" {
		return nil, fmt.Errorf("%w: response carried no message", ErrCompletionFailed)
	}

	cost := out.CreditsUsed
	if cost <= 0 {
		cost = defaultCost
	}
	return &Result{Text: out.Message, CreditsUsed: cost}, nil
}

// Stream is unsupported on the plain gateway.
func (c *HTTPCompleter) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("%w: streaming unsupported by http backend", ErrCompletionFailed)
}
