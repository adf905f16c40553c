package session

import (
	"sync"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

// Synchronizer mirrors transcript events into history. It observes the
// transcript under its lock, so events arrive in production order; the
// lastContent map lets it drop stale or duplicate updates so a message body
// never regresses to an earlier value.
type Synchronizer struct {
	mu          sync.Mutex
	history     *History
	scheduler   *Scheduler
	lastContent map[string]string
}

// NewSynchronizer builds the observer bridging a transcript to a history.
// scheduler may be nil in tests that only care about mirroring.
func NewSynchronizer(history *History, scheduler *Scheduler) *Synchronizer {
	return &Synchronizer{
		history:     history,
		scheduler:   scheduler,
		lastContent: make(map[string]string),
	}
}

// MessageAppended forwards a new transcript message exactly once.
func (s *Synchronizer) MessageAppended(msg chat.Message) {
	s.mu.Lock()
	s.lastContent[msg.ID] = msg.Content
	s.mu.Unlock()

	s.history.Mirror(msg)
	if s.scheduler != nil {
		s.scheduler.Kick()
	}
}

// MessageUpdated forwards a content or audio change, skipping updates whose
// content matches what was last forwarded for that id.
func (s *Synchronizer) MessageUpdated(msg chat.Message) {
	s.mu.Lock()
	last, known := s.lastContent[msg.ID]
	if known && last == msg.Content && msg.AudioURL == "" {
		s.mu.Unlock()
		return
	}
	s.lastContent[msg.ID] = msg.Content
	s.mu.Unlock()

	s.history.MirrorUpdate(msg)
}

// MessageRemoved drops the message from history and forgets its content.
func (s *Synchronizer) MessageRemoved(id string) {
	s.mu.Lock()
	delete(s.lastContent, id)
	s.mu.Unlock()

	s.history.MirrorRemove(id)
	if s.scheduler != nil {
		s.scheduler.Kick()
	}
}
