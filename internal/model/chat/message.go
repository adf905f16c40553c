package chat

// Message roles. The engine never stores system messages; those exist only
// inside the completion prompt.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PlaceholderContent is the sentinel body of an assistant message that has
// been dispatched but not yet resolved.
const PlaceholderContent = "…"

// Message is one transcript entry. Content mutates exactly once, when the
// placeholder is replaced by the final completion; Disposed flips false→true
// exactly once when the message leaves the visible transcript.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	AudioURL  string `json:"audioUrl,omitempty"`
	Disposed  bool   `json:"disposed,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
}

// IsPlaceholder reports whether the message still carries the sentinel body.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.Content == PlaceholderContent
}
