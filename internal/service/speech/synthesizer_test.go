package speech_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
	speechsvc "github.com/yearsky/nara-companion/internal/service/speech"
)

func TestSynthesizeAppliesDefaultVoice(t *testing.T) {
	var received speechmodel.TTSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audioUrl":"https://cdn.example/voice/abc.mp3","duration":2400}`))
	}))
	defer server.Close()

	synth := speechsvc.NewHTTPSynthesizer(speechmodel.Config{
		SynthesizeURL: server.URL,
		Voice:         "nara-default",
		Language:      "id-ID",
		Timeout:       5,
	})

	resp, err := synth.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "Selamat datang!"})
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if resp.AudioURL != "https://cdn.example/voice/abc.mp3" {
		t.Fatalf("unexpected audio url: %s", resp.AudioURL)
	}
	if received.Voice != "nara-default" || received.Language != "id-ID" {
		t.Fatalf("defaults not applied: %+v", received)
	}
}

func TestSynthesizeMissingAudioURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duration":100}`))
	}))
	defer server.Close()

	synth := speechsvc.NewHTTPSynthesizer(speechmodel.Config{SynthesizeURL: server.URL, Timeout: 5})
	_, err := synth.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "halo"})
	if !errors.Is(err, speechsvc.ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
}

func TestSynthesizeUnconfiguredEndpoint(t *testing.T) {
	synth := speechsvc.NewHTTPSynthesizer(speechmodel.Config{Timeout: 5})
	_, err := synth.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "halo"})
	if !errors.Is(err, speechsvc.ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
}
