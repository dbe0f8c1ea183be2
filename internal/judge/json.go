package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the first balanced {...} object in text. A
// greedy regex overshoots on nested objects or multiple JSON blocks;
// this walks the braces and respects string literals and escapes.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escape {
			escape = false
			continue
		}
		if ch == '\\' {
			if inString {
				escape = true
			}
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeJSON extracts the first balanced JSON object from raw model
// output and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	obj, ok := ExtractJSON(text)
	if !ok {
		return fmt.Errorf("judge: no JSON object in output")
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("judge: decode: %w", err)
	}
	return nil
}
