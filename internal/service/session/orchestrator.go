package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	emotionanalysis "github.com/yearsky/nara-companion/internal/analysis/emotion"
	"github.com/yearsky/nara-companion/internal/model/chat"
	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
	"github.com/yearsky/nara-companion/internal/service/ai"
	"github.com/yearsky/nara-companion/internal/service/credit"
	"github.com/yearsky/nara-companion/internal/service/emotion"
	"github.com/yearsky/nara-companion/internal/service/playback"
	"github.com/yearsky/nara-companion/internal/service/speech"
)

// Deps wires the orchestrator to every collaborator of a turn.
type Deps struct {
	Transcript      *Transcript
	History         *History
	Credits         *credit.Meter
	Emotions        *emotion.State
	Completer       ai.Completer
	Synthesizer     speech.Synthesizer
	Transcriber     speech.Transcriber
	Player          *playback.Player
	Pacing          time.Duration // reveal delay after the completion lands
	SpeakingPerRune time.Duration // speaking-time estimate when no clip exists
	Tracer          trace.Tracer
	Meter           metric.Meter
}

// Orchestrator runs one conversational turn end to end: credit gate, user
// append, placeholder, completion, settle, voice, playback. A single turn is
// in flight at a time; a second send is rejected, not queued.
type Orchestrator struct {
	transcript  *Transcript
	history     *History
	credits     *credit.Meter
	emotions    *emotion.State
	completer   ai.Completer
	synthesizer speech.Synthesizer
	transcriber speech.Transcriber
	player      *playback.Player
	pacing      time.Duration
	perRune     time.Duration

	tracer       trace.Tracer
	turnsTotal   metric.Int64Counter
	creditsSpent metric.Int64Counter

	mu          sync.Mutex
	inFlight    bool
	pendingErr  bool // credit settle failed after a delivered reply
	speakTimer  *time.Timer
	speakSerial int
	closed      bool
}

// NewOrchestrator builds the turn engine. Tracer and Meter fall back to the
// global otel providers when unset.
func NewOrchestrator(deps Deps) *Orchestrator {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("session")
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter("session")
	}

	turns, err := meter.Int64Counter("session.turns")
	if err != nil {
		log.Printf("[session] failed to create turn counter: %v", err)
	}
	spent, err := meter.Int64Counter("session.credits.spent")
	if err != nil {
		log.Printf("[session] failed to create credit counter: %v", err)
	}

	// Playback end closes the canonical emotion loop back to neutral.
	if deps.Player != nil {
		emotions := deps.Emotions
		deps.Player.SetOnEnd(func() { emotions.SetEmotion(emotion.Neutral) })
	}

	return &Orchestrator{
		transcript:   deps.Transcript,
		history:      deps.History,
		credits:      deps.Credits,
		emotions:     deps.Emotions,
		completer:    deps.Completer,
		synthesizer:  deps.Synthesizer,
		transcriber:  deps.Transcriber,
		player:       deps.Player,
		pacing:       deps.Pacing,
		perRune:      deps.SpeakingPerRune,
		tracer:       tracer,
		turnsTotal:   turns,
		creditsSpent: spent,
	}
}

// SendMessage runs a full text turn. On success it returns the resolved
// assistant message; the transcript and history already reflect it.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, turnCtx chat.TurnContext) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	if err := o.begin(); err != nil {
		return chat.Message{}, err
	}
	defer o.end()

	ctx, span := o.tracer.Start(ctx, "session.turn",
		trace.WithAttributes(attribute.Int("message.runes", utf8.RuneCountInString(text))))
	defer span.End()

	// The prior transcript is captured before the user message is appended,
	// so the completion sees the new text exactly once, as the query.
	prior := o.transcript.List()

	now := time.Now().UnixMilli()
	userMsg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: now,
	}
	o.transcript.Append(userMsg)

	o.emotions.SetEmotion(emotion.Thinking)

	placeholder := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   chat.PlaceholderContent,
		Timestamp: time.Now().UnixMilli(),
	}
	o.transcript.Append(placeholder)

	result, err := o.completer.Complete(ctx, ai.Request{
		History:     prior,
		UserMessage: text,
		Context:     turnCtx,
	})
	if err != nil {
		// The placeholder never resolved; retract it so the transcript holds
		// no dangling "…" entry, and charge nothing.
		o.transcript.Remove(placeholder.ID)
		o.emotions.SetEmotion(emotion.Neutral)
		o.recordTurn(ctx, "error")
		return chat.Message{}, fmt.Errorf("completion: %w", err)
	}

	if o.pacing > 0 {
		// Brief beat before the reply lands, so the thinking state reads.
		select {
		case <-time.After(o.pacing):
		case <-ctx.Done():
		}
	}

	o.transcript.UpdateContent(placeholder.ID, result.Text)
	o.settleCredits(ctx, result.CreditsUsed)
	o.emotions.SetEmotion(emotionanalysis.Analyze(result.Text))

	reply := chat.Message{
		ID:        placeholder.ID,
		Role:      chat.RoleAssistant,
		Content:   result.Text,
		Timestamp: placeholder.Timestamp,
	}
	reply.AudioURL = o.voice(ctx, result.Text, placeholder.ID)

	o.recordTurn(ctx, "ok")
	return reply, nil
}

// SendRecordedVoice transcribes a finished clip and runs the resulting text
// through SendMessage. A clip that transcribes to silence is reported as
// ErrNothingHeard and never reaches the completion backend.
func (o *Orchestrator) SendRecordedVoice(ctx context.Context, req *speechmodel.ASRRequest, turnCtx chat.TurnContext) (chat.Message, error) {
	ctx, span := o.tracer.Start(ctx, "session.voice_turn")
	defer span.End()

	resp, err := o.transcriber.Transcribe(ctx, req)
	if err != nil {
		return chat.Message{}, err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return chat.Message{}, ErrNothingHeard
	}

	log.Printf("[session] transcribed %d bytes via %s: %q", req.SizeBytes, resp.Provider, text)
	return o.SendMessage(ctx, text, turnCtx)
}

// Busy reports whether a turn is currently in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Close stops any pending speaking timer.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.speakTimer != nil {
		o.speakTimer.Stop()
		o.speakTimer = nil
	}
}

// begin takes the single in-flight slot and runs the credit gate. The gate
// only decides whether a NEW turn may start; a settle failure from a prior
// turn surfaces here rather than clawing back the delivered reply.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight {
		return ErrTurnInFlight
	}
	if o.pendingErr {
		o.pendingErr = false
		return ErrInsufficientCredit
	}
	if o.credits.Balance() < 1 {
		return ErrInsufficientCredit
	}

	o.inFlight = true
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

// settleCredits deducts the provider-reported cost after the reply is
// already shown. When the balance cannot cover it the remainder is
// forgiven, the balance zeroed, and the shortfall flagged for the next
// turn's gate.
func (o *Orchestrator) settleCredits(ctx context.Context, cost int) {
	if cost <= 0 {
		cost = 1
	}

	if !o.credits.Spend(cost) {
		log.Printf("[session] balance below turn cost %d, zeroing and flagging", cost)
		cost = o.credits.Balance()
		o.credits.Set(0)
		o.mu.Lock()
		o.pendingErr = true
		o.mu.Unlock()
	}

	if o.creditsSpent != nil && cost > 0 {
		o.creditsSpent.Add(ctx, int64(cost))
	}
	if o.credits.IsLow() {
		log.Printf("[session] credits running low: %d remaining", o.credits.Balance())
	}
}

// voice synthesizes and plays the reply. Synthesis failure is non-fatal:
// the turn already succeeded, the avatar just speaks silently for an
// estimated duration instead.
func (o *Orchestrator) voice(ctx context.Context, text, messageID string) string {
	if o.synthesizer == nil {
		o.speakEstimated(text)
		return ""
	}

	resp, err := o.synthesizer.Synthesize(ctx, &speechmodel.TTSRequest{Text: text})
	if err != nil {
		log.Printf("[session] synthesis failed, continuing without audio: %v", err)
		o.speakEstimated(text)
		return ""
	}

	o.transcript.SetAudioURL(messageID, resp.AudioURL)
	if o.player != nil {
		o.player.Play(resp.AudioURL, time.Duration(resp.DurationMs)*time.Millisecond)
	} else {
		o.speakEstimated(text)
	}
	return resp.AudioURL
}

// speakEstimated drives the speaking flag from a length-proportional timer
// when no playable clip exists. Single slot: a newer reply supersedes the
// previous estimate.
func (o *Orchestrator) speakEstimated(text string) {
	if o.perRune <= 0 {
		return
	}

	d := time.Duration(utf8.RuneCountInString(text)) * o.perRune

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.speakTimer != nil {
		o.speakTimer.Stop()
	}
	o.speakSerial++
	serial := o.speakSerial
	o.emotions.SetSpeaking(true)
	o.speakTimer = time.AfterFunc(d, func() {
		o.mu.Lock()
		stale := serial != o.speakSerial
		o.mu.Unlock()
		if !stale {
			o.emotions.SetSpeaking(false)
			o.emotions.SetEmotion(emotion.Neutral)
		}
	})
	o.mu.Unlock()
}

func (o *Orchestrator) recordTurn(ctx context.Context, status string) {
	if o.turnsTotal == nil {
		return
	}
	o.turnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
