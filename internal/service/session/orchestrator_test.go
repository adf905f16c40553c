package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/yearsky/nara-companion/internal/model/chat"
	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
	"github.com/yearsky/nara-companion/internal/service/ai"
	"github.com/yearsky/nara-companion/internal/service/credit"
	"github.com/yearsky/nara-companion/internal/service/emotion"
	"github.com/yearsky/nara-companion/internal/service/playback"
	"github.com/yearsky/nara-companion/internal/service/session"
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   int
	lastReq ai.Request
	result  *ai.Result
	err     error
	block   chan struct{} // when set, Complete waits until closed
}

func (f *fakeCompleter) Complete(ctx context.Context, req ai.Request) (*ai.Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCompleter) Stream(ctx context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCompleter) StreamingEnabled() bool { return false }

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynthesizer struct {
	resp  *speechmodel.TTSResponse
	err   error
	calls int
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeTranscriber struct {
	resp *speechmodel.ASRResponse
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fixture struct {
	orch       *session.Orchestrator
	transcript *session.Transcript
	history    *session.History
	credits    *credit.Meter
	emotions   *emotion.State
	completer  *fakeCompleter
	synth      *fakeSynthesizer
	asr        *fakeTranscriber
}

func newFixture(balance int) *fixture {
	transcript := session.NewTranscript(100)
	history := session.NewHistory(5*time.Minute, nil)
	transcript.AddObserver(session.NewSynchronizer(history, nil))

	emotions := emotion.NewState()
	completer := &fakeCompleter{result: &ai.Result{Text: "Halo! Senang bertemu denganmu.", CreditsUsed: 1}}
	synth := &fakeSynthesizer{resp: &speechmodel.TTSResponse{AudioURL: "https://audio.test/clip.mp3", DurationMs: 1800}}
	asr := &fakeTranscriber{resp: &speechmodel.ASRResponse{Text: "halo nara", Provider: "local"}}

	f := &fixture{
		transcript: transcript,
		history:    history,
		credits:    credit.NewMeter(balance, 3, nil),
		emotions:   emotions,
		completer:  completer,
		synth:      synth,
		asr:        asr,
	}
	f.orch = session.NewOrchestrator(session.Deps{
		Transcript:  transcript,
		History:     history,
		Credits:     f.credits,
		Emotions:    emotions,
		Completer:   completer,
		Synthesizer: synth,
		Transcriber: asr,
		Player:      playback.NewPlayer(emotions),
	})
	return f
}

func TestSendMessageHappyPath(t *testing.T) {
	f := newFixture(10)

	reply, err := f.orch.SendMessage(context.Background(), " Halo Nara ", chat.TurnContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "Halo! Senang bertemu denganmu." {
		t.Fatalf("unexpected reply text: %q", reply.Content)
	}
	if reply.AudioURL != "https://audio.test/clip.mp3" {
		t.Fatalf("reply missing audio url: %q", reply.AudioURL)
	}

	list := f.transcript.List()
	if len(list) != 2 {
		t.Fatalf("expected user + assistant, got %d messages", len(list))
	}
	if list[0].Role != chat.RoleUser || list[0].Content != "Halo Nara" {
		t.Fatalf("unexpected user message: %+v", list[0])
	}
	if list[1].Role != chat.RoleAssistant || list[1].IsPlaceholder() {
		t.Fatalf("assistant message not resolved: %+v", list[1])
	}
	if list[1].ID != reply.ID {
		t.Fatal("resolved message id differs from the placeholder id")
	}

	if got := f.credits.Balance(); got != 9 {
		t.Fatalf("expected one credit spent, balance %d", got)
	}
	if got := len(f.history.VisibleMessages()); got != 2 {
		t.Fatalf("history did not mirror the turn: %d visible", got)
	}
}

func TestSendMessageEmptyInput(t *testing.T) {
	f := newFixture(10)

	_, err := f.orch.SendMessage(context.Background(), "   ", chat.TurnContext{})
	if !errors.Is(err, session.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if f.completer.callCount() != 0 {
		t.Fatal("empty input reached the completion backend")
	}
	if f.transcript.Len() != 0 {
		t.Fatal("empty input left a transcript entry")
	}
}

func TestSendMessageInsufficientCredit(t *testing.T) {
	f := newFixture(0)

	_, err := f.orch.SendMessage(context.Background(), "halo", chat.TurnContext{})
	if !errors.Is(err, session.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if f.completer.callCount() != 0 {
		t.Fatal("gated turn reached the completion backend")
	}
	if f.transcript.Len() != 0 {
		t.Fatal("gated turn left a transcript entry")
	}
}

type placeholderEmotionWatcher struct {
	emotions *emotion.State
	got      emotion.Emotion
}

func (p *placeholderEmotionWatcher) MessageAppended(msg chat.Message) {
	if msg.IsPlaceholder() {
		p.got = p.emotions.Current().Emotion
	}
}

func (p *placeholderEmotionWatcher) MessageUpdated(chat.Message) {}
func (p *placeholderEmotionWatcher) MessageRemoved(string)      {}

func TestThinkingPrecedesPlaceholder(t *testing.T) {
	f := newFixture(10)
	watcher := &placeholderEmotionWatcher{emotions: f.emotions}
	f.transcript.AddObserver(watcher)

	if _, err := f.orch.SendMessage(context.Background(), "halo", chat.TurnContext{}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if watcher.got != emotion.Thinking {
		t.Fatalf("emotion at placeholder append was %q, want thinking", watcher.got)
	}
}

func TestLastCreditSpentGatesNextTurn(t *testing.T) {
	f := newFixture(1)

	if _, err := f.orch.SendMessage(context.Background(), "halo", chat.TurnContext{}); err != nil {
		t.Fatalf("turn with exact balance failed: %v", err)
	}
	if got := f.credits.Balance(); got != 0 {
		t.Fatalf("expected zero balance, got %d", got)
	}

	_, err := f.orch.SendMessage(context.Background(), "lagi", chat.TurnContext{})
	if !errors.Is(err, session.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if f.completer.callCount() != 1 {
		t.Fatalf("gated turn reached the backend: %d calls", f.completer.callCount())
	}
}

func TestSendMessageCompletionFailure(t *testing.T) {
	f := newFixture(10)
	f.completer.err = errors.New("upstream exploded")

	_, err := f.orch.SendMessage(context.Background(), "halo", chat.TurnContext{})
	if err == nil {
		t.Fatal("expected completion failure to propagate")
	}

	list := f.transcript.List()
	if len(list) != 1 || list[0].Role != chat.RoleUser {
		t.Fatalf("expected only the user message to survive, got %+v", list)
	}
	for _, msg := range list {
		if msg.IsPlaceholder() {
			t.Fatal("dangling placeholder left in transcript")
		}
	}

	if got := f.credits.Balance(); got != 10 {
		t.Fatalf("failed turn charged credits: balance %d", got)
	}
	if got := f.emotions.Current().Emotion; got != emotion.Neutral {
		t.Fatalf("emotion not reset after failure: %s", got)
	}
}

func TestSendMessageRejectsSecondTurn(t *testing.T) {
	f := newFixture(10)
	f.completer.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.SendMessage(context.Background(), "pertama", chat.TurnContext{})
		done <- err
	}()

	// Wait until the first turn is inside the completion call.
	deadline := time.Now().Add(2 * time.Second)
	for f.completer.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first turn never reached the completer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := f.orch.SendMessage(context.Background(), "kedua", chat.TurnContext{})
	if !errors.Is(err, session.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(f.completer.block)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// Only the first turn's text reached the backend.
	if f.completer.callCount() != 1 {
		t.Fatalf("expected one completion call, got %d", f.completer.callCount())
	}
}

func TestSendMessageSynthesisFailureNonFatal(t *testing.T) {
	f := newFixture(10)
	f.synth.err = errors.New("tts down")

	reply, err := f.orch.SendMessage(context.Background(), "halo", chat.TurnContext{})
	if err != nil {
		t.Fatalf("synthesis failure must not fail the turn: %v", err)
	}
	if reply.AudioURL != "" {
		t.Fatalf("reply carries audio url despite failure: %q", reply.AudioURL)
	}
	if reply.Content == "" || strings.Contains(reply.Content, "tts") {
		t.Fatalf("reply text corrupted: %q", reply.Content)
	}
	if got := f.credits.Balance(); got != 9 {
		t.Fatalf("credit not settled on voiceless turn: balance %d", got)
	}
}

func TestSettleShortfallSurfacesNextTurn(t *testing.T) {
	f := newFixture(2)
	f.completer.result = &ai.Result{Text: "jawaban panjang", CreditsUsed: 5}

	reply, err := f.orch.SendMessage(context.Background(), "halo", chat.TurnContext{})
	if err != nil {
		t.Fatalf("delivered reply must not be clawed back: %v", err)
	}
	if reply.Content != "jawaban panjang" {
		t.Fatalf("unexpected reply: %q", reply.Content)
	}
	if got := f.credits.Balance(); got != 0 {
		t.Fatalf("expected zeroed balance after shortfall, got %d", got)
	}

	_, err = f.orch.SendMessage(context.Background(), "lagi", chat.TurnContext{})
	if !errors.Is(err, session.ErrInsufficientCredit) {
		t.Fatalf("shortfall not surfaced on the next turn: %v", err)
	}
}

func TestCompletionSeesPriorTranscriptOnly(t *testing.T) {
	f := newFixture(10)

	if _, err := f.orch.SendMessage(context.Background(), "pertama", chat.TurnContext{}); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if _, err := f.orch.SendMessage(context.Background(), "kedua", chat.TurnContext{}); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	req := f.completer.lastReq
	if req.UserMessage != "kedua" {
		t.Fatalf("unexpected query: %q", req.UserMessage)
	}
	// History holds the first exchange only; "kedua" travels as the query.
	if len(req.History) != 2 {
		t.Fatalf("expected 2 prior messages, got %d", len(req.History))
	}
	for _, msg := range req.History {
		if msg.Content == "kedua" {
			t.Fatal("query duplicated into history")
		}
	}
}

func TestSendRecordedVoice(t *testing.T) {
	f := newFixture(10)

	reply, err := f.orch.SendRecordedVoice(context.Background(), &speechmodel.ASRRequest{SizeBytes: 1024}, chat.TurnContext{})
	if err != nil {
		t.Fatalf("voice turn failed: %v", err)
	}
	if reply.Content == "" {
		t.Fatal("voice turn produced no reply")
	}

	list := f.transcript.List()
	if list[0].Content != "halo nara" {
		t.Fatalf("transcribed text not used as the user message: %q", list[0].Content)
	}
}

func TestSendRecordedVoiceSilence(t *testing.T) {
	f := newFixture(10)
	f.asr.resp = &speechmodel.ASRResponse{Text: "   ", Provider: "local"}

	_, err := f.orch.SendRecordedVoice(context.Background(), &speechmodel.ASRRequest{SizeBytes: 1024}, chat.TurnContext{})
	if !errors.Is(err, session.ErrNothingHeard) {
		t.Fatalf("expected ErrNothingHeard, got %v", err)
	}
	if f.completer.callCount() != 0 {
		t.Fatal("silent clip reached the completion backend")
	}
	if got := f.credits.Balance(); got != 10 {
		t.Fatalf("silent clip charged credits: balance %d", got)
	}
}

func TestSendRecordedVoiceTranscriptionError(t *testing.T) {
	f := newFixture(10)
	f.asr.err = errors.New("both providers down")

	_, err := f.orch.SendRecordedVoice(context.Background(), &speechmodel.ASRRequest{SizeBytes: 1024}, chat.TurnContext{})
	if err == nil {
		t.Fatal("expected transcription error to propagate")
	}
	if f.completer.callCount() != 0 {
		t.Fatal("failed transcription reached the completion backend")
	}
}
