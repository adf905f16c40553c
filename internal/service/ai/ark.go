package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/yearsky/nara-companion/internal/config"
	"github.com/yearsky/nara-companion/internal/model/chat"
)

// ArkCompleter generates replies through an Ark chat model wrapped in an
// eino chain: companion system prompt, history placeholder, user query.
type ArkCompleter struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewArkCompleter compiles the chain once at startup.
func NewArkCompleter(ctx context.Context, cfg config.AIConfig) (*ArkCompleter, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &ArkCompleter{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled reports whether SSE delta output is configured.
func (c *ArkCompleter) StreamingEnabled() bool {
	return c.cfg.StreamResponse
}

// Complete runs the chain and returns the aggregated reply.
func (c *ArkCompleter) Complete(ctx context.Context, req Request) (*Result, error) {
	response, err := c.chain.Invoke(ctx, c.buildChainInput(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		usage := response.ResponseMeta.Usage
		log.Printf("[ai] completion tokens prompt=%d completion=%d", usage.PromptTokens, usage.CompletionTokens)
	}

	// Ark meters per turn, not per token, so each completion costs one.
	return &Result{Text: response.Content, CreditsUsed: defaultCost}, nil
}

// Stream emits delta chunks. Callers aggregate or discard; Complete stays
// canonical.
func (c *ArkCompleter) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if !c.StreamingEnabled() {
		return nil, fmt.Errorf("%w: streaming disabled in configuration", ErrCompletionFailed)
	}

	stream, err := c.chain.Stream(ctx, c.buildChainInput(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}
	return stream, nil
}

func (c *ArkCompleter) buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(req.Context),
		"history": buildHistoryMessages(req.History),
		"query":   req.UserMessage,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	const historyLimit = 10

	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.IsPlaceholder() || msg.Failed {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
