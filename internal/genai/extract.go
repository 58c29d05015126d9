package genai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSONFound is returned when model output contains no parseable JSON span of the
// requested kind.
var ErrNoJSONFound = errors.New("no JSON found in model output")

// ExtractJSONObject returns the first balanced {...} span in text that is valid JSON.
// Prose around the span is ignored.
func ExtractJSONObject(text string) (string, error) {
	return extractSpan(text, '{', '}')
}

// ExtractJSONArray returns the first balanced [...] span in text that is valid JSON.
func ExtractJSONArray(text string) (string, error) {
	return extractSpan(text, '[', ']')
}

// DecodeJSONObject extracts the first JSON object from text and unmarshals it into v.
func DecodeJSONObject(text string, v any) error {
	span, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("decode JSON object: %w", err)
	}
	return nil
}

// DecodeJSONArray extracts the first JSON array from text and unmarshals it into v.
func DecodeJSONArray(text string, v any) error {
	span, err := ExtractJSONArray(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("decode JSON array: %w", err)
	}
	return nil
}

// Search limits. Completions are capped by the token limit, so longer text is not a
// model reply, and a reply whose JSON starts after dozens of stray delimiters is not
// worth scanning for.
const (
	MaxScanBytes  = 16 << 10
	MaxCandidates = 32
)

// extractSpan scans for each opening delimiter in turn, finds its balanced close while
// skipping string literals, and returns the first candidate that is valid JSON. At most
// MaxCandidates openings are tried, which keeps the scan linear in the text length.
func extractSpan(text string, open, close byte) (string, error) {
	if len(text) > MaxScanBytes {
		text = text[:MaxScanBytes]
	}
	tried := 0
	for start := 0; start < len(text) && tried < MaxCandidates; start++ {
		if text[start] != open {
			continue
		}
		tried++
		end := matchClose(text, start, open, close)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrNoJSONFound
}

// matchClose returns the index of the delimiter closing text[start], or -1.
func matchClose(text string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
