package capture

import (
	"context"
	"errors"
	"sync"
)

// Capture failure taxonomy. Device errors surface at initialization, capture
// errors mid-recording; neither ever panics.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no audio input device available")
	ErrDeviceBusy        = errors.New("audio input device already held")
	ErrDeviceLost        = errors.New("audio input device disconnected")
	ErrNotRecording      = errors.New("recorder is not recording")
	ErrNotInitialized    = errors.New("recorder is not initialized")
)

// Device models the exclusive physical microphone. Acquire is called once per
// recorder lifetime; Release must succeed on every exit path.
type Device interface {
	Acquire(ctx context.Context) error
	Release() error
}

// StreamDevice is the production device: the browser owns the real
// microphone and streams PCM chunks over a websocket, so "acquiring" is an
// exclusivity claim on that ingestion stream.
type StreamDevice struct {
	mu   sync.Mutex
	held bool
}

// NewStreamDevice returns an unheld stream device.
func NewStreamDevice() *StreamDevice {
	return &StreamDevice{}
}

// Acquire claims the ingestion stream.
func (d *StreamDevice) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return ErrDeviceBusy
	}
	d.held = true
	return nil
}

// Release frees the claim. Releasing an unheld device is a no-op.
func (d *StreamDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = false
	return nil
}
