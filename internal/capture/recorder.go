package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Clip is a finished recording ready for transcription.
type Clip struct {
	Data     []byte
	Format   string // pcm, wav, webm
	Duration time.Duration
}

// waveformWindow bounds SampleWaveform output to the most recent samples.
const waveformWindow = 256

// Recorder buffers microphone chunks between Start and Stop and exposes live
// volume/waveform samples for the recording UI. One Recorder owns one Device;
// Close releases it on every path.
type Recorder struct {
	mu          sync.Mutex
	device      Device
	format      string
	initialized bool
	recording   bool
	failure     error
	startedAt   time.Time
	buffer      []byte
	lastChunk   []byte
	closed      bool
}

// NewRecorder wraps a device. Chunks are expected as 16-bit little-endian PCM.
func NewRecorder(device Device, format string) *Recorder {
	if format == "" {
		format = "pcm"
	}
	return &Recorder{device: device, format: format}
}

// Initialize acquires the device. Called once; repeated calls are no-ops.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrDeviceUnavailable
	}
	if r.initialized {
		return nil
	}

	if err := r.device.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire device: %w", err)
	}
	r.initialized = true
	return nil
}

// Start begins buffering. Starting while already recording is a safe no-op,
// never a second device acquisition.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized || r.closed {
		return ErrNotInitialized
	}
	if r.recording {
		return nil
	}

	r.recording = true
	r.failure = nil
	r.startedAt = time.Now()
	r.buffer = r.buffer[:0]
	r.lastChunk = nil
	return nil
}

// Ingest appends a chunk to the active recording. Chunks arriving while idle
// are dropped; sampling stays safe at any time.
func (r *Recorder) Ingest(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.buffer = append(r.buffer, chunk...)
	r.lastChunk = append(r.lastChunk[:0], chunk...)
}

// Abort marks the active recording as failed, e.g. when the ingestion stream
// drops mid-recording. Stop will report the failure.
func (r *Recorder) Abort(cause error) {
	if cause == nil {
		cause = ErrDeviceLost
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.failure = cause
}

// Stop finalizes the recording and returns the buffered clip. The internal
// buffer is cleared regardless of outcome, so no partial state survives.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return Clip{}, ErrNotRecording
	}

	data := make([]byte, len(r.buffer))
	copy(data, r.buffer)
	duration := time.Since(r.startedAt)
	failure := r.failure

	r.recording = false
	r.failure = nil
	r.buffer = r.buffer[:0]
	r.lastChunk = nil

	if failure != nil {
		return Clip{}, fmt.Errorf("recording failed: %w", failure)
	}

	return Clip{Data: data, Format: r.format, Duration: duration}, nil
}

// SampleVolume returns the RMS level of the most recent chunk scaled to
// 0..100. Zero when not recording.
func (r *Recorder) SampleVolume() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording || len(r.lastChunk) < 2 {
		return 0
	}

	var sum float64
	n := 0
	for i := 0; i+1 < len(r.lastChunk); i += 2 {
		sample := int16(uint16(r.lastChunk[i]) | uint16(r.lastChunk[i+1])<<8)
		sum += float64(sample) * float64(sample)
		n++
	}
	if n == 0 {
		return 0
	}

	rms := math.Sqrt(sum / float64(n))
	level := int(rms / 327.67) // map 0..32767 onto 0..100
	if level > 100 {
		level = 100
	}
	return level
}

// SampleWaveform returns the most recent raw samples for the waveform widget.
// Empty when not recording.
func (r *Recorder) SampleWaveform() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording || len(r.lastChunk) == 0 {
		return nil
	}

	start := 0
	if len(r.lastChunk) > waveformWindow {
		start = len(r.lastChunk) - waveformWindow
	}
	out := make([]byte, len(r.lastChunk)-start)
	copy(out, r.lastChunk[start:])
	return out
}

// IsRecording reports the recording flag.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close stops any active recording and releases the device. Safe to call
// more than once and on a recorder that never initialized.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.recording = false
	r.buffer = nil
	r.lastChunk = nil
	initialized := r.initialized
	r.initialized = false
	r.mu.Unlock()

	if !initialized {
		return nil
	}
	if err := r.device.Release(); err != nil {
		return fmt.Errorf("release device: %w", err)
	}
	return nil
}
