package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
)

// Synthesizer voices a reply and returns a playable URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// HTTPSynthesizer speaks the synthesis contract: JSON {text, voice, language}
// in, {audioUrl, duration} out.
type HTTPSynthesizer struct {
	url      string
	voice    string
	language string
	client   *http.Client
}

// NewHTTPSynthesizer builds the client from config.
func NewHTTPSynthesizer(cfg speechmodel.Config) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		url:      cfg.SynthesizeURL,
		voice:    cfg.Voice,
		language: cfg.Language,
		client:   &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

// Synthesize requests audio for the text.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if s.url == "" {
		return nil, fmt.Errorf("%w: synthesis endpoint not configured", ErrSynthesisFailed)
	}

	payload := *req
	if payload.Voice == "" {
		payload.Voice = s.voice
	}
	if payload.Language == "" {
		payload.Language = s.language
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrSynthesisFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSynthesisFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSynthesisFailed, resp.StatusCode, snippet)
	}

	var out speechmodel.TTSResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSynthesisFailed, err)
	}
	if out.AudioURL == "" {
		return nil, fmt.Errorf("%w: response carried no audioUrl", ErrSynthesisFailed)
	}
	return &out, nil
}
