package session

import (
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

// summaryRunes bounds the reconstructed-conversation title length.
const summaryRunes = 60

// HistoryPersister writes history rows through to local storage. A nil
// persister keeps history purely in memory.
type HistoryPersister interface {
	SaveMessage(m chat.Message) error
	DeleteAllMessages() error
}

// History mirrors the ephemeral transcript, tracks which messages have been
// disposed out of the visible window, and reconstructs full conversations
// from the disposed set on demand.
type History struct {
	mu              sync.Mutex
	visible         []chat.Message
	disposed        []chat.Message
	known           map[string]bool // ids ever mirrored, guards duplicates
	idleGap         time.Duration
	persist         HistoryPersister
	onVisibleChange func()
}

// NewHistory creates an empty history.
func NewHistory(idleGap time.Duration, persist HistoryPersister) *History {
	return &History{
		known:   make(map[string]bool),
		idleGap: idleGap,
		persist: persist,
	}
}

// SetOnVisibleChange registers the disposal scheduler's kick. Wire before
// the first mirror.
func (h *History) SetOnVisibleChange(hook func()) {
	h.onVisibleChange = hook
}

// Restore preloads previously persisted messages, visible and disposed
// alike, in timestamp order. Called once at startup.
func (h *History) Restore(messages []chat.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, msg := range messages {
		if h.known[msg.ID] {
			continue
		}
		h.known[msg.ID] = true
		if msg.Disposed {
			h.disposed = append(h.disposed, msg)
		} else {
			h.visible = append(h.visible, msg)
		}
	}
}

// Mirror records a newly appended transcript message exactly once.
func (h *History) Mirror(msg chat.Message) {
	h.mu.Lock()
	if h.known[msg.ID] {
		h.mu.Unlock()
		return
	}
	h.known[msg.ID] = true
	h.visible = append(h.visible, msg)
	hook := h.onVisibleChange
	h.mu.Unlock()

	h.save(msg)
	if hook != nil {
		hook()
	}
}

// MirrorUpdate applies a content/audio change to the mirrored copy.
func (h *History) MirrorUpdate(msg chat.Message) {
	h.mu.Lock()
	updated := false
	for i := range h.visible {
		if h.visible[i].ID == msg.ID {
			h.visible[i].Content = msg.Content
			h.visible[i].AudioURL = msg.AudioURL
			updated = true
			break
		}
	}
	if !updated {
		for i := range h.disposed {
			if h.disposed[i].ID == msg.ID {
				h.disposed[i].Content = msg.Content
				h.disposed[i].AudioURL = msg.AudioURL
				msg.Disposed = true
				updated = true
				break
			}
		}
	}
	h.mu.Unlock()

	if updated {
		h.save(msg)
	}
}

// MirrorRemove drops a retracted message from the visible window.
func (h *History) MirrorRemove(id string) {
	h.mu.Lock()
	hook := h.onVisibleChange
	removed := false
	for i := range h.visible {
		if h.visible[i].ID == id {
			h.visible = append(h.visible[:i], h.visible[i+1:]...)
			delete(h.known, id)
			removed = true
			break
		}
	}
	h.mu.Unlock()

	if removed && hook != nil {
		hook()
	}
}

// DisposeOldest moves all but the most recent keepLastN visible messages
// into the disposed set, oldest first. Idempotent: with nothing in excess it
// does nothing, and a message is never disposed twice.
func (h *History) DisposeOldest(keepLastN int) int {
	if keepLastN < 0 {
		keepLastN = 0
	}

	h.mu.Lock()
	excess := len(h.visible) - keepLastN
	if excess <= 0 {
		h.mu.Unlock()
		return 0
	}

	moved := make([]chat.Message, excess)
	copy(moved, h.visible[:excess])
	h.visible = append([]chat.Message(nil), h.visible[excess:]...)
	for i := range moved {
		moved[i].Disposed = true
	}
	h.disposed = append(h.disposed, moved...)
	h.mu.Unlock()

	for _, msg := range moved {
		h.save(msg)
	}
	return excess
}

// VisibleMessages returns the still-rendered window.
func (h *History) VisibleMessages() []chat.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]chat.Message, len(h.visible))
	copy(out, h.visible)
	return out
}

// DisposedMessages returns the long-term set in disposal order.
func (h *History) DisposedMessages() []chat.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]chat.Message, len(h.disposed))
	copy(out, h.disposed)
	return out
}

// ReconstructConversations groups disposed messages into conversations,
// drawing a boundary wherever consecutive messages are separated by more
// than the idle gap. Pure derivation; recomputed on every call.
func (h *History) ReconstructConversations() []chat.Conversation {
	disposed := h.DisposedMessages()
	if len(disposed) == 0 {
		return nil
	}

	var conversations []chat.Conversation
	var current []chat.Message

	flush := func() {
		if len(current) == 0 {
			return
		}
		conversations = append(conversations, buildConversation(current))
		current = nil
	}

	for i, msg := range disposed {
		if i > 0 {
			gap := time.Duration(msg.Timestamp-disposed[i-1].Timestamp) * time.Millisecond
			if gap > h.idleGap {
				flush()
			}
		}
		current = append(current, msg)
	}
	flush()

	return conversations
}

// ClearHistory wipes visible, disposed and persisted state atomically.
// Irreversible.
func (h *History) ClearHistory() {
	h.mu.Lock()
	h.visible = nil
	h.disposed = nil
	h.known = make(map[string]bool)
	h.mu.Unlock()

	if h.persist != nil {
		if err := h.persist.DeleteAllMessages(); err != nil {
			log.Printf("[history] failed to clear persisted messages: %v", err)
		}
	}
}

func (h *History) save(msg chat.Message) {
	if h.persist == nil {
		return
	}
	if err := h.persist.SaveMessage(msg); err != nil {
		log.Printf("[history] failed to persist message %s: %v", msg.ID, err)
	}
}

func buildConversation(messages []chat.Message) chat.Conversation {
	msgs := make([]chat.Message, len(messages))
	copy(msgs, messages)

	summary := ""
	for _, msg := range msgs {
		if msg.Role == chat.RoleUser && msg.Content != "" {
			summary = truncateRunes(msg.Content, summaryRunes)
			break
		}
	}
	if summary == "" {
		summary = truncateRunes(msgs[0].Content, summaryRunes)
	}

	return chat.Conversation{
		ID:              "conv-" + msgs[0].ID,
		Messages:        msgs,
		StartTime:       msgs[0].Timestamp,
		LastMessageTime: msgs[len(msgs)-1].Timestamp,
		Summary:         summary,
	}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
