package result

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The types in this file decode whatever shape an oracle produced for a
// field into a fixed Go type. They never fail: anything unusable becomes the
// zero value.

// Flag is a bool that also accepts "true"/"yes"/"1" strings and non-zero numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = false
	var v any
	if json.Unmarshal(b, &v) != nil {
		return nil
	}
	switch x := v.(type) {
	case bool:
		*f = Flag(x)
	case float64:
		*f = x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			*f = true
		}
	}
	return nil
}

// Score is a confidence in [0,1]. Numeric strings and percentages are
// accepted; out-of-range values are clamped.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	*s = 0
	var v any
	if json.Unmarshal(b, &v) != nil {
		return nil
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		x = strings.TrimSpace(x)
		pct := strings.HasSuffix(x, "%")
		n, err := strconv.ParseFloat(strings.TrimSuffix(x, "%"), 64)
		if err != nil {
			return nil
		}
		if pct {
			n /= 100
		}
		f = n
	default:
		return nil
	}
	*s = Score(clamp01(f))
	return nil
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Int is an integer that also accepts floats and numeric strings.
type Int int

func (n *Int) UnmarshalJSON(b []byte) error {
	*n = 0
	var v any
	if json.Unmarshal(b, &v) != nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		*n = Int(math.Round(x))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			*n = Int(math.Round(f))
		}
	}
	return nil
}

// Text is a string. Numbers and booleans keep their literal form; objects
// and arrays become compact JSON.
type Text string

func (t Text) String() string { return string(t) }

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text(textOf(b))
	return nil
}

func textOf(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	if b[0] == '"' {
		var s string
		if json.Unmarshal(b, &s) == nil {
			return s
		}
		return ""
	}
	var buf bytes.Buffer
	if json.Compact(&buf, b) != nil {
		return ""
	}
	return buf.String()
}

// List is a list of strings. A single string becomes a one-element list and
// non-string elements are rendered as Text. Blank entries are dropped.
type List []string

func (l *List) UnmarshalJSON(b []byte) error {
	*l = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if b[0] != '[' {
		if s := strings.TrimSpace(textOf(b)); s != "" {
			*l = List{s}
		}
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(b, &items) != nil {
		return nil
	}
	for _, it := range items {
		if s := strings.TrimSpace(textOf(it)); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// MarshalJSON renders a nil list as [].
func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Items is a list of T. Elements that cannot be decoded as T are skipped and a
// lone value is treated as a one-element list.
type Items[T any] []T

func (s *Items[T]) UnmarshalJSON(b []byte) error {
	*s = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] != '[' {
		var v T
		if json.Unmarshal(b, &v) == nil {
			*s = Items[T]{v}
		}
		return nil
	}
	var raws []json.RawMessage
	if json.Unmarshal(b, &raws) != nil {
		return nil
	}
	for _, r := range raws {
		var v T
		if json.Unmarshal(r, &v) == nil {
			*s = append(*s, v)
		}
	}
	return nil
}

// MarshalJSON renders a nil list as [].
func (s Items[T]) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]T(s))
}
