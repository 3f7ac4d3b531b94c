// Package thinking separates model reasoning from the visible answer.
//
// Raw model output may embed reasoning between StartMarker and EndMarker.
// Split never fails: unterminated or stray markers degrade to in-progress
// thinking.
package thinking

import "strings"

const (
	StartMarker = "<think>"
	EndMarker   = "</think>"
)

// Segments is the result of splitting raw model text.
type Segments struct {
	Thinking string
	Answer   string

	// Pending is true while a start marker has no matching end marker yet.
	Pending bool
}

// Split classifies raw text into thinking and answer segments. Both segments
// are trimmed of surrounding whitespace, with or without markers.
func Split(raw string) Segments {
	if !strings.Contains(raw, StartMarker) && !strings.Contains(raw, EndMarker) {
		return Segments{Answer: strings.TrimSpace(raw)}
	}

	var (
		thinking []string
		answer   strings.Builder
		pending  bool
		rest     = raw
	)

	// A closing marker before any opening one closes an implicit block from the start.
	if end := strings.Index(rest, EndMarker); end >= 0 {
		if start := strings.Index(rest, StartMarker); start < 0 || end < start {
			thinking = append(thinking, rest[:end])
			rest = rest[end+len(EndMarker):]
		}
	}

	for rest != "" {
		start := strings.Index(rest, StartMarker)
		if start < 0 {
			answer.WriteString(strings.ReplaceAll(rest, EndMarker, ""))
			break
		}
		answer.WriteString(strings.ReplaceAll(rest[:start], EndMarker, ""))
		rest = rest[start+len(StartMarker):]

		end := strings.Index(rest, EndMarker)
		if end < 0 {
			thinking = append(thinking, strings.ReplaceAll(rest, StartMarker, ""))
			pending = true
			break
		}
		thinking = append(thinking, strings.ReplaceAll(rest[:end], StartMarker, ""))
		rest = rest[end+len(EndMarker):]
	}

	var parts []string
	for _, t := range thinking {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}

	return Segments{
		Thinking: strings.Join(parts, "\n\n"),
		Answer:   strings.TrimSpace(answer.String()),
		Pending:  pending,
	}
}

// Strip returns raw text with every thinking segment removed.
func Strip(raw string) string {
	return Split(raw).Answer
}
