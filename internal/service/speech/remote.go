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

// RemoteProvider speaks the hosted transcription contract: multipart audio
// plus a language hint, JSON {text, language, duration} back.
type RemoteProvider struct {
	url      string
	apiKey   string
	language string
	client   *http.Client
}

// NewRemoteProvider builds the primary provider from config.
func NewRemoteProvider(cfg speechmodel.Config) *RemoteProvider {
	return &RemoteProvider{
		url:      cfg.TranscribeURL,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		client:   &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

// Name identifies the provider in responses and logs.
func (p *RemoteProvider) Name() string { return "remote" }

// Transcribe uploads the clip and normalizes the response.
func (p *RemoteProvider) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "clip."+req.Format)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.AudioData); err != nil {
		return nil, fmt.Errorf("copy audio payload: %w", err)
	}

	language := req.Language
	if language == "" {
		language = p.language
	}
	if err := writer.WriteField("language", language); err != nil {
		return nil, fmt.Errorf("write language field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote transcription status %d: %s", resp.StatusCode, snippet)
	}

	var payload struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Duration int64  `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode remote transcription response: %w", err)
	}

	return &speechmodel.ASRResponse{
		Text:       payload.Text,
		Language:   payload.Language,
		DurationMs: payload.Duration,
	}, nil
}
