package speech

// Config holds credentials and endpoints for the remote speech services plus
// the local fallback recognizer.
type Config struct {
	// Remote transcription provider.
	TranscribeURL string `json:"transcribeUrl"`
	APIKey        string `json:"apiKey"`

	// Locally hosted whisper-compatible fallback.
	FallbackURL string `json:"fallbackUrl"`

	// Synthesis service.
	SynthesizeURL string `json:"synthesizeUrl"`
	Voice         string `json:"voice"`

	Language     string `json:"language"` // default hint for both directions
	MaxClipBytes int64  `json:"maxClipBytes"`
	Timeout      int    `json:"timeout"` // seconds
}

// RemoteConfigured reports whether the primary provider has a usable
// credential. When false the adapter skips straight to the fallback.
func (c Config) RemoteConfigured() bool {
	return c.TranscribeURL != "" && c.APIKey != ""
}
