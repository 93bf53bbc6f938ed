package diagram

import (
	"fmt"
	"strings"
)

// Validation failure reasons.
const (
	ReasonEmpty       = "empty code"
	ReasonTooFewLines = "too few lines"
)

const minNonBlankLines = 2

// ValidationError describes why code failed the structural check.
type ValidationError struct {
	Type   Type
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validate runs the structural check for code of type t. It returns nil when
// the code passes. The check is heuristic: the type marker must appear
// somewhere in the code and the code must span at least two non-blank lines.
// A string containing the marker plus one line of noise passes.
func Validate(code string, t Type) error {
	if strings.TrimSpace(code) == "" {
		return &ValidationError{Type: t, Reason: ReasonEmpty}
	}

	if !t.IsValid() {
		t = DefaultType
	}

	if !strings.Contains(code, t.Marker()) {
		return &ValidationError{Type: t, Reason: fmt.Sprintf("missing %s keyword", t)}
	}

	if countNonBlank(code) < minNonBlankLines {
		return &ValidationError{Type: t, Reason: ReasonTooFewLines}
	}

	return nil
}

func countNonBlank(code string) int {
	n := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
