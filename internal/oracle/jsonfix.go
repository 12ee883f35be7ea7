package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var fencedRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

var smartQuotes = strings.NewReplacer("“", `"`, "”", `"`)

// ExtractJSON pulls one JSON object out of a model reply. It accepts a bare
// object, an object inside a code fence, or the first balanced object in
// surrounding prose, and repairs common escaping mistakes before giving up.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}

	if m := fencedRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") && strings.HasSuffix(candidate, "}") {
			if raw, ok := parseOrRepair(candidate); ok {
				return raw, nil
			}
		}
	}

	obj, err := firstObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (raw: %s)", ErrMalformedResponse, err, truncate(text, 200))
	}
	if raw, ok := parseOrRepair(obj); ok {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: invalid JSON object (raw: %s)", ErrMalformedResponse, truncate(obj, 200))
}

func parseOrRepair(s string) (json.RawMessage, bool) {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true
	}
	repaired := RepairJSON(s)
	if json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired), true
	}
	return nil, false
}

// firstObject returns the first balanced {...} in s, ignoring braces inside strings.
func firstObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no JSON object found")
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced braces")
}

// RepairJSON fixes the mistakes models make most often, touching string
// contents only: raw newlines and control characters are escaped, invalid
// escapes such as LaTeX \alpha get their backslash doubled, and \t \n \r \b \f
// followed by a letter (\theta, \nabla) are read as LaTeX. Outside strings,
// trailing commas before } or ] are dropped.
func RepairJSON(js string) string {
	js = strings.ReplaceAll(js, "\r\n", "\n")
	js = strings.ReplaceAll(js, "\r", "\n")
	js = smartQuotes.Replace(js)

	var out strings.Builder
	out.Grow(len(js) + 16)
	inStr := false
	for i := 0; i < len(js); i++ {
		ch := js[i]
		if !inStr {
			if ch == ',' && closesNext(js, i+1) {
				continue
			}
			out.WriteByte(ch)
			if ch == '"' {
				inStr = true
			}
			continue
		}

		switch {
		case ch == '"':
			out.WriteByte(ch)
			inStr = false
		case ch == '\\':
			if i+1 >= len(js) {
				out.WriteString(`\\`)
				continue
			}
			next := js[i+1]
			switch {
			case strings.IndexByte("bfnrt", next) >= 0 && i+2 < len(js) && isLetter(js[i+2]):
				out.WriteString(`\\`)
			case strings.IndexByte("\"\\/bfnrt", next) >= 0:
				out.WriteByte('\\')
				out.WriteByte(next)
				i++
			case next == 'u' && i+6 <= len(js) && isHex4(js[i+2:i+6]):
				out.WriteString(js[i : i+6])
				i += 5
			default:
				out.WriteString(`\\`)
			}
		case ch == '\n':
			out.WriteString(`\n`)
		case ch == '\t':
			out.WriteString(`\t`)
		case ch < 0x20:
			fmt.Fprintf(&out, `\u%04x`, ch)
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

func closesNext(s string, i int) bool {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\n', '\t', '\r':
			continue
		case '}', ']':
			return true
		default:
			return false
		}
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isHex4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
