package diagram

import (
	"regexp"
	"strings"
)

// Sanitized is the result of extracting diagram code from a model response.
type Sanitized struct {
	// Code is the cleaned diagram code.
	Code string

	// Confirmed is true when a leading diagram keyword was found. Unconfirmed
	// code is returned as-is and will normally fail validation.
	Confirmed bool
}

var (
	mermaidFence = regexp.MustCompile("(?s)```[ \t]*mermaid[ \t]*\r?\n?(.*?)```")
	anyFence     = regexp.MustCompile("(?s)```[ \t]*([A-Za-z][A-Za-z0-9_-]*)?[ \t]*\r?\n(.*?)```")

	keywordAlternation = strings.Join(quoteAll(LeadingKeywords), "|")
	lineStartKeyword   = regexp.MustCompile(`(?m)^[ \t]*(` + keywordAlternation + `)\b`)
	anywhereKeyword    = regexp.MustCompile(`\b(` + keywordAlternation + `)\b`)
)

// fillerTokens mark conversational lines the model leaks into its output.
// Matching is a plain substring test on the lowercased line, so labels such
// as "User" or "Reuse cache" are dropped too.
var fillerTokens = []string{"need", "maybe", "let's", "use", "showing", "etc"}

// Extract pulls the most likely diagram code out of a raw model response.
//
// Fenced blocks labeled mermaid win, then any fenced block, then the raw
// text. Everything before the first leading diagram keyword is discarded and
// the remaining lines are normalized.
func Extract(raw string) Sanitized {
	text := unfence(raw)

	text, confirmed := trimLeadIn(text)

	return Sanitized{
		Code:      cleanLines(text, confirmed),
		Confirmed: confirmed,
	}
}

// unfence returns the interior of the preferred fenced block, or the trimmed
// input when no fence is present.
func unfence(raw string) string {
	text := strings.TrimSpace(raw)

	if m := mermaidFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	if m := anyFence.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[2])
		// A fence opened as ```sequenceDiagram carries the declaration in
		// its info string.
		if label := m[1]; isLeadingKeyword(label) {
			return label + "\n" + body
		}
		return body
	}

	return text
}

// trimLeadIn drops any prose before the first diagram keyword. Keywords at
// the start of a line are preferred over keywords embedded in a sentence.
func trimLeadIn(text string) (string, bool) {
	if loc := lineStartKeyword.FindStringSubmatchIndex(text); loc != nil {
		return text[loc[2]:], true
	}
	if loc := anywhereKeyword.FindStringIndex(text); loc != nil {
		return text[loc[0]:], true
	}
	return text, false
}

// cleanLines strips trailing whitespace, collapses blank runs, removes stray
// fence lines and, for confirmed diagrams, drops filler lines. The first line
// of a confirmed diagram holds its declaration and is always kept.
func cleanLines(text string, confirmed bool) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		line = strings.TrimRight(line, " \t\r")

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}

		if line == "" {
			if len(out) == 0 || out[len(out)-1] == "" {
				continue
			}
			out = append(out, line)
			continue
		}

		// Unconfirmed text is kept whole so validation sees the prose as sent.
		if confirmed && i > 0 && isFiller(line) {
			continue
		}

		out = append(out, line)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}

	return strings.Join(out, "\n")
}

func isFiller(line string) bool {
	lower := strings.ToLower(line)
	for _, token := range fillerTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func isLeadingKeyword(s string) bool {
	for _, kw := range LeadingKeywords {
		if s == kw {
			return true
		}
	}
	return false
}

func quoteAll(words []string) []string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return quoted
}
