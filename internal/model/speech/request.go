package speech

import "io"

// ASRRequest carries one finished clip to a transcription provider.
type ASRRequest struct {
	AudioData io.Reader `json:"-"`
	SizeBytes int64     `json:"sizeBytes"`
	Format    string    `json:"format"`   // wav, webm, mp3, ...
	Language  string    `json:"language"` // hint, e.g. id-ID, en-US
}

// TTSRequest asks the synthesis service to voice a reply.
type TTSRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}
