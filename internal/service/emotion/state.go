package emotion

import (
	"log"
	"sync"
)

// Emotion labels the avatar's animation layer understands.
type Emotion string

const (
	Neutral     Emotion = "neutral"
	Thinking    Emotion = "thinking"
	Happy       Emotion = "happy"
	Curious     Emotion = "curious"
	Encouraging Emotion = "encouraging"
)

// Valid reports whether the label is one the animation layer understands.
func (e Emotion) Valid() bool {
	switch e {
	case Neutral, Thinking, Happy, Curious, Encouraging:
		return true
	}
	return false
}

// Snapshot is the current avatar state. No history is retained.
type Snapshot struct {
	Emotion    Emotion `json:"emotion"`
	IsSpeaking bool    `json:"isSpeaking"`
}

// State is the process-wide single-writer-many-reader emotion holder.
// Consumers subscribe for snapshots; a slow subscriber loses intermediate
// snapshots rather than blocking the writer.
type State struct {
	mu       sync.Mutex
	current  Snapshot
	nextID   int
	watchers map[int]chan Snapshot
}

// NewState starts at neutral, not speaking.
func NewState() *State {
	return &State{
		current:  Snapshot{Emotion: Neutral},
		watchers: make(map[int]chan Snapshot),
	}
}

// SetEmotion updates the emotion label. Unknown labels are normalized to
// neutral so the avatar never receives an animation it cannot render.
func (s *State) SetEmotion(e Emotion) {
	if !e.Valid() {
		log.Printf("[emotion] unknown label %q, forcing neutral", e)
		e = Neutral
	}

	s.mu.Lock()
	if s.current.Emotion == e {
		s.mu.Unlock()
		return
	}
	s.current.Emotion = e
	snap := s.current
	s.mu.Unlock()

	s.broadcast(snap)
}

// SetSpeaking flips the vocalization flag.
func (s *State) SetSpeaking(speaking bool) {
	s.mu.Lock()
	if s.current.IsSpeaking == speaking {
		s.mu.Unlock()
		return
	}
	s.current.IsSpeaking = speaking
	snap := s.current
	s.mu.Unlock()

	s.broadcast(snap)
}

// Current returns the snapshot.
func (s *State) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers a watcher. The returned cancel func must be called to
// release it.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.current // seed with the current state
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *State) broadcast(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest so the latest snapshot always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
