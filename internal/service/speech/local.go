package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
)

// LocalProvider talks to a locally hosted whisper-compatible inference
// server. It needs no credential, which is what makes it a safe fallback.
type LocalProvider struct {
	url    string
	client *http.Client
}

// NewLocalProvider builds the fallback provider from config.
func NewLocalProvider(cfg speechmodel.Config) *LocalProvider {
	return &LocalProvider{
		url:    cfg.FallbackURL,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

// Name identifies the provider in responses and logs.
func (p *LocalProvider) Name() string { return "local" }

// Transcribe posts the clip to the whisper server.
func (p *LocalProvider) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "clip."+req.Format)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.AudioData); err != nil {
		return nil, fmt.Errorf("copy audio payload: %w", err)
	}
	if req.Language != "" {
		if err := writer.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("local transcription status %d: %s", resp.StatusCode, snippet)
	}

	var payload struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Duration int64  `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode local transcription response: %w", err)
	}

	return &speechmodel.ASRResponse{
		Text:       payload.Text,
		Language:   payload.Language,
		DurationMs: payload.Duration,
	}, nil
}
