package ai

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

// ErrCompletionFailed wraps any chat-completion backend failure.
var ErrCompletionFailed = errors.New("chat completion failed")

// Request is one completion turn: the prior transcript, the new user
// message, and optional structured context from the shell.
type Request struct {
	History     []chat.Message
	UserMessage string
	Context     chat.TurnContext
}

// Result is the authoritative aggregated completion. CreditsUsed is the
// provider-reported cost; providers that report nothing charge one credit.
type Result struct {
	Text        string
	CreditsUsed int
}

// Completer is the chat-completion backend. Stream is optional sugar: the
// chunks are informational only and Complete remains the canonical path.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
	Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// defaultCost applies when the provider reports no usage.
const defaultCost = 1
