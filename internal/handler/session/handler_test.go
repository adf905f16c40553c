package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	sessionHandler "github.com/yearsky/nara-companion/internal/handler/session"
	"github.com/yearsky/nara-companion/internal/model/chat"
	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
	"github.com/yearsky/nara-companion/internal/service/ai"
	"github.com/yearsky/nara-companion/internal/service/credit"
	"github.com/yearsky/nara-companion/internal/service/emotion"
	sessionService "github.com/yearsky/nara-companion/internal/service/session"
)

type stubCompleter struct {
	result *ai.Result
	err    error
}

func (s *stubCompleter) Complete(ctx context.Context, req ai.Request) (*ai.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubCompleter) Stream(ctx context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (s *stubCompleter) StreamingEnabled() bool { return false }

type stubTranscriber struct {
	resp    *speechmodel.ASRResponse
	err     error
	lastReq speechmodel.ASRRequest
}

func (s *stubTranscriber) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	s.lastReq = *req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type env struct {
	router  http.Handler
	credits *credit.Meter
	history *sessionService.History
}

func newEnv(balance int, completer *stubCompleter, asr *stubTranscriber) *env {
	transcript := sessionService.NewTranscript(100)
	history := sessionService.NewHistory(5*time.Minute, nil)
	scheduler := sessionService.NewScheduler(history, time.Hour, 4)
	transcript.AddObserver(sessionService.NewSynchronizer(history, scheduler))

	emotions := emotion.NewState()
	credits := credit.NewMeter(balance, 3, nil)

	orch := sessionService.NewOrchestrator(sessionService.Deps{
		Transcript:  transcript,
		History:     history,
		Credits:     credits,
		Emotions:    emotions,
		Completer:   completer,
		Transcriber: asr,
	})

	h := sessionHandler.New(orch, transcript, history, scheduler, credits, emotions, 25<<20)
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) { h.RegisterRoutes(api) })

	return &env{router: r, credits: credits, history: history}
}

func postJSON(t *testing.T, router http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageEndpoint(t *testing.T) {
	e := newEnv(10, &stubCompleter{result: &ai.Result{Text: "Selamat datang!", CreditsUsed: 2}}, nil)

	rec := postJSON(t, e.router, "/api/session/messages", map[string]any{
		"text":    "halo",
		"context": map[string]string{"topic": "batik", "location": "Museum Tekstil"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message   chat.Message `json:"message"`
		Balance   int          `json:"balance"`
		LowCredit bool         `json:"lowCredit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message.Content != "Selamat datang!" {
		t.Fatalf("unexpected reply: %q", resp.Message.Content)
	}
	if resp.Balance != 8 {
		t.Fatalf("expected balance 8 after 2-credit turn, got %d", resp.Balance)
	}
}

func TestSendMessageEndpointValidation(t *testing.T) {
	e := newEnv(10, &stubCompleter{result: &ai.Result{Text: "x"}}, nil)

	rec := postJSON(t, e.router, "/api/session/messages", map[string]string{"text": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/session/messages", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	e.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec2.Code)
	}
}

func TestSendMessageEndpointInsufficientCredit(t *testing.T) {
	e := newEnv(0, &stubCompleter{result: &ai.Result{Text: "x"}}, nil)

	rec := postJSON(t, e.router, "/api/session/messages", map[string]string{"text": "halo"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestListMessagesEndpoint(t *testing.T) {
	e := newEnv(10, &stubCompleter{result: &ai.Result{Text: "jawaban"}}, nil)
	postJSON(t, e.router, "/api/session/messages", map[string]string{"text": "halo"})

	req := httptest.NewRequest(http.MethodGet, "/api/session/messages", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var resp struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected user + assistant, got %d", len(resp.Messages))
	}
}

func TestVoiceEndpointDefaultsFormat(t *testing.T) {
	asr := &stubTranscriber{resp: &speechmodel.ASRResponse{Text: "halo nara", Provider: "local"}}
	e := newEnv(10, &stubCompleter{result: &ai.Result{Text: "jawaban"}}, asr)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "clip.webm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	payload := []byte("audio-bytes")
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write audio part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/session/voice", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	// No format field supplied; the transcriber still sees a usable one.
	if asr.lastReq.Format != "wav" {
		t.Fatalf("format did not default: %q", asr.lastReq.Format)
	}
	if asr.lastReq.SizeBytes != int64(len(payload)) {
		t.Fatalf("unexpected clip size %d, want %d", asr.lastReq.SizeBytes, len(payload))
	}
}

func TestCreditsEndpoints(t *testing.T) {
	e := newEnv(7, &stubCompleter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/session/credits", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var got struct {
		Balance   int  `json:"balance"`
		LowCredit bool `json:"lowCredit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Balance != 7 || got.LowCredit {
		t.Fatalf("unexpected credits state: %+v", got)
	}

	body, _ := json.Marshal(map[string]int{"balance": 2})
	put := httptest.NewRequest(http.MethodPut, "/api/session/credits", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	e.router.ServeHTTP(rec2, put)
	if rec2.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec2.Code)
	}
	if e.credits.Balance() != 2 {
		t.Fatalf("balance not applied: %d", e.credits.Balance())
	}

	missing := httptest.NewRequest(http.MethodPut, "/api/session/credits", strings.NewReader("{}"))
	rec3 := httptest.NewRecorder()
	e.router.ServeHTTP(rec3, missing)
	if rec3.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing balance, got %d", rec3.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	e := newEnv(10, &stubCompleter{result: &ai.Result{Text: "jawaban"}}, nil)
	postJSON(t, e.router, "/api/session/messages", map[string]string{"text": "halo"})

	del := httptest.NewRequest(http.MethodDelete, "/api/session/history", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, del)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if len(e.history.VisibleMessages()) != 0 {
		t.Fatal("history not cleared")
	}

	// The ephemeral transcript empties together with history.
	list := httptest.NewRequest(http.MethodGet, "/api/session/messages", nil)
	recList := httptest.NewRecorder()
	e.router.ServeHTTP(recList, list)
	var listResp struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(recList.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(listResp.Messages) != 0 {
		t.Fatalf("transcript still holds %d messages after clear", len(listResp.Messages))
	}

	// A new turn mirrors into both stores again.
	postJSON(t, e.router, "/api/session/messages", map[string]string{"text": "lanjut"})
	if got := len(e.history.VisibleMessages()); got != 2 {
		t.Fatalf("turn after clear not mirrored: %d visible", got)
	}

	get := httptest.NewRequest(http.MethodGet, "/api/session/history", nil)
	rec2 := httptest.NewRecorder()
	e.router.ServeHTTP(rec2, get)
	if rec2.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec2.Code)
	}
	if !strings.Contains(rec2.Body.String(), `"conversations":[]`) {
		t.Fatalf("expected empty conversations, got %s", rec2.Body.String())
	}
}

func TestEmotionSnapshotEndpoint(t *testing.T) {
	e := newEnv(10, &stubCompleter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/session/emotion", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var snap emotion.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Emotion != emotion.Neutral || snap.IsSpeaking {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestViewportEndpoint(t *testing.T) {
	e := newEnv(10, &stubCompleter{}, nil)

	body, _ := json.Marshal(map[string]int{"keepLast": 2})
	req := httptest.NewRequest(http.MethodPut, "/api/session/viewport", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"keepLast":2`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
