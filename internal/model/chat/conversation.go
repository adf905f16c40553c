package chat

// Conversation is a derived grouping of disposed messages, reconstructed on
// demand by the idle-gap heuristic. It is never stored directly.
type Conversation struct {
	ID              string    `json:"id"`
	Messages        []Message `json:"messages"`
	StartTime       int64     `json:"startTime"`       // epoch milliseconds
	LastMessageTime int64     `json:"lastMessageTime"` // epoch milliseconds
	Summary         string    `json:"summary"`
}

// TurnContext carries optional structured hints about what the user is
// currently doing in the shell, e.g. which museum exhibit is on screen.
type TurnContext struct {
	Topic    string `json:"topic,omitempty"`
	Location string `json:"location,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// IsZero reports whether no context was supplied.
func (c TurnContext) IsZero() bool {
	return c.Topic == "" && c.Location == "" && c.Detail == ""
}
