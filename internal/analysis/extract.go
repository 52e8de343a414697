package analysis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_+-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\r?\n?[ \t]*```$")
)

// Extract recovers a single JSON object from model output. It tolerates one
// surrounding markdown fence, // and /* */ comments, and prose around the
// object. Anything it cannot recover is a *ParseError.
func Extract(text string) (map[string]any, error) {
	unfenced := strings.TrimSpace(text)
	unfenced = leadingFence.ReplaceAllString(unfenced, "")
	unfenced = trailingFence.ReplaceAllString(unfenced, "")

	obj, err := decodeObject(strings.TrimSpace(stripComments(unfenced)))
	if err == nil {
		return obj, nil
	}

	// Fall back to the outermost braces, e.g. "Here you go: {...} Hope it helps".
	// Comments are stripped from the slice only; quotes in the prose do not pair up.
	start := strings.Index(unfenced, "{")
	end := strings.LastIndex(unfenced, "}")
	if start == -1 || end <= start {
		return nil, &ParseError{Err: err}
	}

	obj, err = decodeObject(strings.TrimSpace(stripComments(unfenced[start : end+1])))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return obj, nil
}

func decodeObject(text string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("response is not a JSON object")
	}
	return obj, nil
}

// stripComments removes // line comments and /* */ block comments that are
// not inside a JSON string literal.
func stripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			b.WriteByte(c)
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

		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}

		if c == '/' && i+1 < len(text) {
			switch text[i+1] {
			case '/':
				for i < len(text) && text[i] != '\n' {
					i++
				}
				if i < len(text) {
					b.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(text[i+2:], "*/")
				if end == -1 {
					return b.String()
				}
				i += 2 + end + 1
				continue
			}
		}

		b.WriteByte(c)
	}
	return b.String()
}
