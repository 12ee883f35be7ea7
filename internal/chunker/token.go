package chunker

import (
	"strings"
	"unicode"
)

// EstimateTokens gives a rough token count. Latin text is counted by words
// at ~1.33 tokens each; Han, Hiragana, Katakana and Hangul runes count as one
// token apiece since textbooks in those scripts have no word spacing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	var latin strings.Builder
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
			latin.WriteByte(' ')
			continue
		}
		latin.WriteRune(r)
	}
	words := len(strings.Fields(latin.String()))
	tokens := cjk + int(float64(words)*1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
