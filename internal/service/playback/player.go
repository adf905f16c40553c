package playback

import (
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/yearsky/nara-companion/internal/service/emotion"
)

// minPlayback keeps the avatar's mouth moving for at least a beat even on
// very short clips.
const minPlayback = 500 * time.Millisecond

// Player drives the speaking flag for synthesized clips. Exactly one
// playback is active at a time; starting a new one implicitly stops the
// previous. Playback end is a single-slot timer sized to the clip duration,
// which is what the exposed onStart/onEnd pair means on a headless engine.
type Player struct {
	mu      sync.Mutex
	state   *emotion.State
	timer   *time.Timer
	current string
	onEnd   func()
	closed  bool
}

// NewPlayer wires the player to the shared emotion state.
func NewPlayer(state *emotion.State) *Player {
	return &Player{state: state}
}

// SetOnEnd registers a hook fired when playback finishes or is stopped.
func (p *Player) SetOnEnd(hook func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnd = hook
}

// Play starts voicing the clip at audioURL for roughly duration. A load
// failure (unusable URL) is logged and leaves the avatar silent; it never
// propagates to the caller.
func (p *Player) Play(audioURL string, duration time.Duration) {
	if !playableURL(audioURL) {
		log.Printf("[playback] unplayable audio url %q, staying silent", audioURL)
		p.Stop()
		return
	}

	if duration < minPlayback {
		duration = minPlayback
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stopLocked(false)
	p.current = audioURL
	p.state.SetSpeaking(true)
	p.timer = time.AfterFunc(duration, func() { p.finish(audioURL) })
	p.mu.Unlock()
}

// Stop halts the active playback, if any. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(true)
}

// ActiveURL returns the URL currently being voiced, empty when idle.
func (p *Player) ActiveURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Close stops playback and clears the pending timer.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(true)
	p.closed = true
}

// finish is the timer callback for natural playback end.
func (p *Player) finish(audioURL string) {
	p.mu.Lock()
	if p.current != audioURL {
		// A newer playback superseded this one.
		p.mu.Unlock()
		return
	}
	p.current = ""
	p.timer = nil
	hook := p.onEnd
	p.mu.Unlock()

	p.state.SetSpeaking(false)
	if hook != nil {
		hook()
	}
}

func (p *Player) stopLocked(fireHook bool) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.current == "" {
		return
	}
	p.current = ""
	p.state.SetSpeaking(false)
	if fireHook && p.onEnd != nil {
		p.onEnd()
	}
}

func playableURL(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
