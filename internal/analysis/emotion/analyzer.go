package emotion

import (
	"strings"

	emotionstate "github.com/yearsky/nara-companion/internal/service/emotion"
)

// Analyze picks the emotion the avatar should land on once a reply is
// revealed. The canonical flow ends in happy; a reply that mostly asks
// questions reads better as curious, and a cheering reply as encouraging.
func Analyze(replyText string) emotionstate.Emotion {
	normalized := strings.TrimSpace(strings.ToLower(replyText))
	if normalized == "" {
		return emotionstate.Happy
	}

	scores := map[emotionstate.Emotion]int{}
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	// Question marks lean toward curiosity, exclamations toward cheer.
	scores[emotionstate.Curious] += strings.Count(replyText, "?") * 2
	scores[emotionstate.Encouraging] += strings.Count(replyText, "!")

	best := emotionstate.Happy
	bestScore := 0
	for label, s := range scores {
		if s > bestScore {
			bestScore = s
			best = label
		}
	}

	if bestScore < 3 {
		return emotionstate.Happy
	}
	return best
}

var keywordBuckets = map[emotionstate.Emotion][]string{
	emotionstate.Curious: {
		"bagaimana", "mengapa", "kenapa", "apa yang", "tahukah", "coba tebak",
		"menurutmu", "how about", "did you know", "what do you think", "penasaran",
	},
	emotionstate.Encouraging: {
		"hebat", "bagus sekali", "keren", "pintar", "terus semangat", "kamu bisa",
		"jangan menyerah", "great job", "well done", "keep going", "luar biasa",
		"semangat",
	},
}
