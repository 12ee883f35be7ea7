package result

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits applied by Sanitize.
const (
	MaxPointLen  = 2000
	MaxQuoteLen  = 200
	MaxListItems = 24
)

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// Sanitize drops evidence that looks like instructions aimed at the model
// rather than content, trims oversize entries and caps list lengths. It
// returns the number of entries removed.
func (n *EvidenceNote) Sanitize() int {
	dropped := 0
	n.RelevantPoints, dropped = cleanList(n.RelevantPoints, dropped)
	n.AssumptionsOrConditions, dropped = cleanList(n.AssumptionsOrConditions, dropped)

	var quotes Items[Quote]
	for _, q := range n.DirectQuotes {
		text := strings.TrimSpace(string(q.Quote))
		if text == "" || injectionPattern.MatchString(text) {
			dropped++
			continue
		}
		q.Quote = Text(truncateRunes(text, MaxQuoteLen))
		quotes = append(quotes, q)
	}
	if len(quotes) > MaxListItems {
		dropped += len(quotes) - MaxListItems
		quotes = quotes[:MaxListItems]
	}
	n.DirectQuotes = quotes

	if len(n.RelevantFormulas) > MaxListItems {
		dropped += len(n.RelevantFormulas) - MaxListItems
		n.RelevantFormulas = n.RelevantFormulas[:MaxListItems]
	}
	return dropped
}

func cleanList(in List, dropped int) (List, int) {
	var out List
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || injectionPattern.MatchString(s) {
			dropped++
			continue
		}
		out = append(out, truncateRunes(s, MaxPointLen))
	}
	if len(out) > MaxListItems {
		dropped += len(out) - MaxListItems
		out = out[:MaxListItems]
	}
	return out, dropped
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
