package service

import (
	"strings"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/signature"
)

const maxEmbeddingRunes = 8000

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func truncateRunes(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

// BuildEmbeddingText assembles the text sent to the embedder for an artifact:
// title, the non-empty canonical dimensions, then the body, truncated to a fixed rune budget.
func BuildEmbeddingText(title, body string, key domain.CanonicalKey) string {
	segments := make([]string, 0, 3)
	if t := normalizeWhitespace(title); t != "" {
		segments = append(segments, "title:"+t)
	}

	var dims []string
	for _, d := range signature.Normalize(key) {
		if d.Value != "" {
			dims = append(dims, d.Name+"="+normalizeWhitespace(d.Value))
		}
	}
	if len(dims) > 0 {
		segments = append(segments, "key:"+strings.Join(dims, " "))
	}

	if b := normalizeWhitespace(body); b != "" {
		segments = append(segments, "body:"+b)
	}
	return truncateRunes(strings.Join(segments, "\n"), maxEmbeddingRunes)
}
