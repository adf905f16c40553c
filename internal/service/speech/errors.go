package speech

import "errors"

var (
	// ErrClipTooLarge is final: the provider would reject the payload, so no
	// fallback attempt is made.
	ErrClipTooLarge = errors.New("audio clip exceeds provider size ceiling")

	// ErrTranscriptionFailed means both providers failed. Callers must not
	// proceed with empty text.
	ErrTranscriptionFailed = errors.New("all transcription providers failed")

	// ErrSynthesisFailed is non-fatal at the orchestrator boundary; the reply
	// is still shown as text.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)
