package suggest

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	arrayPattern  = regexp.MustCompile(`(?s)\[.*\]`)
	bulletPattern = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)
)

// ParseSuggestions extracts suggestion strings from a generation response
// that may wrap its answer in prose. It tries the outermost JSON array
// first, then newline splitting when at least MaxSuggestions non-empty lines
// exist. Blank entries are dropped and at most MaxSuggestions are returned.
// ok is false when the response is unparseable.
func ParseSuggestions(raw string) (suggestions []string, ok bool) {
	if match := arrayPattern.FindString(raw); match != "" {
		var items []string
		if err := json.Unmarshal([]byte(match), &items); err == nil {
			return nonBlank(items), true
		}
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = bulletPattern.ReplaceAllString(line, "")
		line = strings.Trim(line, `"`)
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	if len(lines) >= MaxSuggestions {
		return lines[:MaxSuggestions], true
	}

	return nil, false
}

func nonBlank(items []string) []string {
	out := make([]string, 0, MaxSuggestions)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}
