package session

import (
	"sync"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

// TranscriptObserver receives transcript changes in production order. The
// calls happen under the transcript lock, so implementations must be quick
// and must not call back into the transcript.
type TranscriptObserver interface {
	MessageAppended(msg chat.Message)
	MessageUpdated(msg chat.Message)
	MessageRemoved(id string)
}

// Transcript is the authoritative append-only message log for the active
// session, capped at a fixed maximum with the oldest entries silently
// dropped.
type Transcript struct {
	mu        sync.Mutex
	messages  []chat.Message
	cap       int
	observers []TranscriptObserver
}

// NewTranscript creates an empty transcript. cap <= 0 means unbounded.
func NewTranscript(cap int) *Transcript {
	return &Transcript{cap: cap}
}

// AddObserver registers an observer. Not safe to call concurrently with
// writes; wire observers before the first append.
func (t *Transcript) AddObserver(obs TranscriptObserver) {
	t.observers = append(t.observers, obs)
}

// Append adds a message at the end, evicting the oldest beyond the cap.
func (t *Transcript) Append(msg chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, msg)
	if t.cap > 0 && len(t.messages) > t.cap {
		t.messages = t.messages[len(t.messages)-t.cap:]
	}

	for _, obs := range t.observers {
		obs.MessageAppended(msg)
	}
}

// UpdateContent replaces a message body. Calling with identical content is a
// no-op and notifies nobody, which makes retried updates harmless.
func (t *Transcript) UpdateContent(id, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID != id {
			continue
		}
		if t.messages[i].Content == content {
			return true
		}
		t.messages[i].Content = content
		for _, obs := range t.observers {
			obs.MessageUpdated(t.messages[i])
		}
		return true
	}
	return false
}

// SetAudioURL attaches the synthesized clip to a resolved message.
func (t *Transcript) SetAudioURL(id, audioURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID != id {
			continue
		}
		if t.messages[i].AudioURL == audioURL {
			return true
		}
		t.messages[i].AudioURL = audioURL
		for _, obs := range t.observers {
			obs.MessageUpdated(t.messages[i])
		}
		return true
	}
	return false
}

// Remove deletes a message, used to retract a failed placeholder.
func (t *Transcript) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID != id {
			continue
		}
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
		for _, obs := range t.observers {
			obs.MessageRemoved(id)
		}
		return true
	}
	return false
}

// Clear drops every message and notifies observers of each removal, so the
// mirrored stores empty alongside the transcript.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := t.messages
	t.messages = nil
	for _, msg := range removed {
		for _, obs := range t.observers {
			obs.MessageRemoved(msg.ID)
		}
	}
}

// List returns a copy in insertion order.
func (t *Transcript) List() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := make([]chat.Message, len(t.messages))
	copy(copied, t.messages)
	return copied
}

// Len returns the number of stored messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
