// Package generation turns prompts into validated Mermaid code. The
// Dispatcher owns the admission gate and the call/validate/retry loop; the
// Orchestrator resolves models, builds prompts and hands results to the log.
package generation

import (
	"context"
	"time"

	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/llm"
	"github.com/c360studio/mermaidgen/storage"
)

// Backend performs a single completion call.
type Backend interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// DiagramStore finds a diagram owned by a user. Missing or foreign diagrams
// return storage.ErrNotFound.
type DiagramStore interface {
	Find(ctx context.Context, userID, diagramID string) (*storage.Diagram, error)
}

// LogSink receives one Record per generation.
type LogSink interface {
	Record(ctx context.Context, rec Record) error
}

// Record is the log entry handed to the LogSink.
type Record = storage.GenerationRecord

// Request describes one generation. It is not modified after construction.
type Request struct {
	DiagramType  diagram.Type
	UserText     string
	ExistingCode string
	Model        string

	// Modification tags the outcome and log record as a modification of
	// an existing diagram, even when its stored code is empty.
	Modification bool

	// MaxRetries is the number of retries after the first try. Negative
	// selects the dispatcher default.
	MaxRetries int
}

// Attempt is the result of one backend call.
type Attempt struct {
	Index           int
	RawResponse     string
	SanitizedCode   string
	Valid           bool
	ValidationError string
	Err             error
	Elapsed         time.Duration
}

// Outcome is the terminal result of a generation, folded from its attempts.
type Outcome struct {
	// Code is sanitizer output. Invalid outcomes carry the last sanitized
	// code, if any, as best-effort output.
	Code  string
	Valid bool

	// Kind is empty for valid outcomes.
	Kind  Kind
	Error string

	Elapsed      time.Duration
	Model        string
	AttemptCount int
	Attempts     []Attempt

	Modification bool
	DiagramID    string
	DiagramType  diagram.Type
}

// StatusCode returns the HTTP status of the last failed backend call, if any.
func (o Outcome) StatusCode() (int, bool) {
	if err := o.lastErr(); err != nil {
		return llm.StatusCode(err)
	}
	return 0, false
}

func (o Outcome) lastErr() error {
	for i := len(o.Attempts) - 1; i >= 0; i-- {
		if o.Attempts[i].Err != nil {
			return o.Attempts[i].Err
		}
	}
	return nil
}
