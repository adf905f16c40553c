package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
)

// Transcriber converts a finished clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// Provider is one concrete transcription backend.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)
}

// Adapter tries the remote provider first and falls back to the local one.
// A nil primary (credential absent) skips the network attempt entirely.
type Adapter struct {
	primary  Provider
	fallback Provider
	maxBytes int64
}

// NewAdapter wires the two providers. fallback must not be nil.
func NewAdapter(primary, fallback Provider, maxBytes int64) *Adapter {
	return &Adapter{primary: primary, fallback: fallback, maxBytes: maxBytes}
}

// Transcribe implements the fallback policy. An oversized clip is rejected
// before any network call and is not retried against the fallback, because
// the rejection is about the payload, not the provider.
func (a *Adapter) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if a.maxBytes > 0 && req.SizeBytes > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, ceiling %d", ErrClipTooLarge, req.SizeBytes, a.maxBytes)
	}

	// Buffer the clip once so every provider attempt reads a fresh copy. A
	// failed remote call drains the shared reader; the fallback must never
	// see an already-consumed stream.
	source := req.AudioData
	if a.maxBytes > 0 {
		source = io.LimitReader(source, a.maxBytes+1)
	}
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("%w: read clip: %v", ErrTranscriptionFailed, err)
	}
	if a.maxBytes > 0 && int64(len(data)) > a.maxBytes {
		return nil, fmt.Errorf("%w: %d+ bytes, ceiling %d", ErrClipTooLarge, len(data), a.maxBytes)
	}

	attempt := func(p Provider) (*speechmodel.ASRResponse, error) {
		attemptReq := *req
		attemptReq.AudioData = bytes.NewReader(data)
		attemptReq.SizeBytes = int64(len(data))
		return p.Transcribe(ctx, &attemptReq)
	}

	var primaryErr error
	if a.primary != nil {
		resp, err := attempt(a.primary)
		if err == nil {
			resp.Provider = a.primary.Name()
			return resp, nil
		}
		primaryErr = err
		log.Printf("[speech] primary provider %s failed, trying fallback: %v", a.primary.Name(), err)
	}

	resp, err := attempt(a.fallback)
	if err != nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("%w: primary: %v; fallback: %v", ErrTranscriptionFailed, primaryErr, err)
		}
		return nil, fmt.Errorf("%w: fallback: %v", ErrTranscriptionFailed, err)
	}

	resp.Provider = a.fallback.Name()
	return resp, nil
}

// Service bundles the transcription adapter and the synthesizer the way the
// rest of the engine consumes them.
type Service struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
}

// NewService builds providers from config. The remote ASR provider is only
// instantiated when its credential is present.
func NewService(cfg speechmodel.Config) *Service {
	var primary Provider
	if cfg.RemoteConfigured() {
		primary = NewRemoteProvider(cfg)
	} else {
		log.Println("[speech] remote transcription credential absent, fallback only")
	}

	return &Service{
		Transcriber: NewAdapter(primary, NewLocalProvider(cfg), cfg.MaxClipBytes),
		Synthesizer: NewHTTPSynthesizer(cfg),
	}
}
