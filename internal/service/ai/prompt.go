package ai

import (
	"fmt"
	"strings"

	"github.com/yearsky/nara-companion/internal/model/chat"
)

const companionSystemPrompt = `Kamu adalah Nara, teman belajar budaya Indonesia yang ramah dan hangat.
Kamu menemani pengguna menjelajahi pelajaran, kuis, dan museum virtual tentang budaya Nusantara.

Aturan percakapan:
- Jawab dalam bahasa yang dipakai pengguna (utamakan Bahasa Indonesia).
- Jaga jawaban tetap singkat dan ramah, cocok dibacakan dengan suara.
- Dorong rasa ingin tahu: ajukan pertanyaan lanjutan ringan bila cocok.
- Kalau tidak yakin tentang suatu fakta budaya, katakan terus terang.`

// BuildSystemPrompt assembles Nara's system prompt, folding in whatever the
// shell reports about what the user is currently looking at.
func BuildSystemPrompt(turnContext chat.TurnContext) string {
	if turnContext.IsZero() {
		return companionSystemPrompt
	}

	var builder strings.Builder
	builder.WriteString(companionSystemPrompt)
	builder.WriteString("\n\nKonteks saat ini:")
	if turnContext.Topic != "" {
		builder.WriteString(fmt.Sprintf("\n- Topik: %s", turnContext.Topic))
	}
	if turnContext.Location != "" {
		builder.WriteString(fmt.Sprintf("\n- Lokasi di aplikasi: %s", turnContext.Location))
	}
	if turnContext.Detail != "" {
		builder.WriteString(fmt.Sprintf("\n- Detail: %s", turnContext.Detail))
	}
	builder.WriteString("\nGunakan konteks ini untuk menjawab dengan lebih relevan.")

	return builder.String()
}
