package ai

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model reply that may wrap it in
// markdown fences or surrounding prose. Returns false when no object can be
// found.
func ExtractJSON(reply string, v any) bool {
	s := strings.TrimSpace(reply)

	// Strip markdown code fences.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return true
	}

	// Fall back to the outermost braces.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(s[start:end+1]), v) == nil
}
