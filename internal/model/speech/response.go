package speech

// ASRResponse is the normalized transcription result. An empty Text with a
// nil error means the provider heard silence; callers decide what to do.
type ASRResponse struct {
	Text       string `json:"text"`
	Language   string `json:"language,omitempty"`
	DurationMs int64  `json:"duration"`
	Provider   string `json:"providerUsed"`
}

// TTSResponse points at the synthesized audio for playback.
type TTSResponse struct {
	AudioURL   string `json:"audioUrl"`
	DurationMs int64  `json:"duration,omitempty"`
}
