package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/diagram/prompts"
	"github.com/c360studio/mermaidgen/model"
	"github.com/c360studio/mermaidgen/storage"
)

// DefaultRecordTimeout bounds each asynchronous log sink call.
const DefaultRecordTimeout = 5 * time.Second

// Orchestrator serves create and modify requests on top of a Dispatcher.
// It holds no per-request state.
type Orchestrator struct {
	dispatcher *Dispatcher
	models     *model.Registry
	diagrams   DiagramStore
	sink       LogSink

	logger        *slog.Logger
	metrics       *Metrics
	recordTimeout time.Duration
	maxRetries    int

	records sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRecordTimeout bounds each log sink call.
func WithRecordTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.recordTimeout = d
		}
	}
}

// WithMaxRetries overrides the dispatcher's retry budget for every request.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.maxRetries = n
	}
}

// NewOrchestrator creates an Orchestrator. diagrams and sink may be nil:
// without a store Modify reports every diagram as not found, and without a
// sink nothing is recorded.
func NewOrchestrator(d *Dispatcher, models *model.Registry, diagrams DiagramStore, sink LogSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dispatcher:    d,
		models:        models,
		diagrams:      diagrams,
		sink:          sink,
		logger:        slog.Default(),
		recordTimeout: DefaultRecordTimeout,
		maxRetries:    -1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create generates a new diagram of type t from prompt.
//
// The returned error is non-nil only for failures the caller must handle
// (invalid model, saturation, cancellation, internal errors). Backend and
// validation failures are reported through the Outcome.
func (o *Orchestrator) Create(ctx context.Context, userID, prompt string, t diagram.Type, modelName string) (Outcome, error) {
	return o.Generate(ctx, userID, "", Request{
		DiagramType: t,
		UserText:    prompt,
		Model:       modelName,
		MaxRetries:  o.maxRetries,
	})
}

// Modify applies a modification to a stored diagram owned by userID. Missing
// and foreign diagrams fail with a NotFound error before any backend call.
func (o *Orchestrator) Modify(ctx context.Context, userID, diagramID, modification, modelName string) (Outcome, error) {
	if _, err := o.resolve(modelName); err != nil {
		return Outcome{Kind: err.Kind, Error: err.Message, DiagramID: diagramID, Modification: true}, err
	}

	d, err := o.find(ctx, userID, diagramID)
	if err != nil {
		return Outcome{Kind: err.Kind, Error: err.Message, DiagramID: diagramID, Modification: true}, err
	}

	return o.Generate(ctx, userID, diagramID, Request{
		DiagramType:  diagram.ParseType(d.Type),
		UserText:     modification,
		ExistingCode: d.Code,
		Model:        modelName,
		Modification: true,
		MaxRetries:   o.maxRetries,
	})
}

// Generate runs req for userID. diagramID, when set, is recorded with the
// outcome.
func (o *Orchestrator) Generate(ctx context.Context, userID, diagramID string, req Request) (Outcome, error) {
	modification := req.Modification

	resolved, gerr := o.resolve(req.Model)
	if gerr != nil {
		return Outcome{Kind: gerr.Kind, Error: gerr.Message, DiagramID: diagramID, Modification: modification}, gerr
	}

	t := req.DiagramType
	if !t.IsValid() {
		t = diagram.DefaultType
	}

	o.logger.Info("Generation started",
		"user_id", userID,
		"model", resolved,
		"type", t,
		"modification", modification,
		"prompt_length", len(req.UserText))

	system, user := prompts.Build(t, req.UserText, req.ExistingCode)
	out := o.dispatcher.Generate(ctx, t, system, user, resolved, req.MaxRetries)
	out.Modification = modification
	out.DiagramID = diagramID
	o.metrics.outcome(out)

	o.logger.Info("Generation finished",
		"user_id", userID,
		"model", resolved,
		"valid", out.Valid,
		"kind", out.Kind,
		"attempts", out.AttemptCount,
		"elapsed", out.Elapsed,
		"code_length", len(out.Code))

	if out.AttemptCount > 0 {
		o.record(ctx, Record{
			UserID:       userID,
			DiagramID:    diagramID,
			Prompt:       req.UserText,
			DiagramType:  string(t),
			Model:        resolved,
			Code:         out.Code,
			Valid:        out.Valid,
			Kind:         string(out.Kind),
			Error:        out.Error,
			Elapsed:      out.Elapsed,
			Attempts:     out.AttemptCount,
			Modification: modification,
		})
	}

	switch out.Kind {
	case KindCanceled:
		return out, canceledError(ctx)
	case KindSaturated, KindInternal:
		return out, newError(out.Kind, out.Error, out.lastErr())
	}
	return out, nil
}

// Close waits for outstanding log sink calls.
func (o *Orchestrator) Close() {
	o.records.Wait()
}

func (o *Orchestrator) resolve(requested string) (string, *Error) {
	resolved, err := o.models.Resolve(requested)
	if err != nil {
		o.logger.Warn("Rejected model", "model", requested)
		return "", newError(KindInvalidModel, "invalid model: "+requested, err)
	}
	return resolved, nil
}

func (o *Orchestrator) find(ctx context.Context, userID, diagramID string) (*storage.Diagram, *Error) {
	if o.diagrams == nil {
		return nil, newError(KindNotFound, ErrNotFound.Message, storage.ErrNotFound)
	}

	d, err := o.diagrams.Find(ctx, userID, diagramID)
	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, storage.ErrNotFound):
		o.logger.Info("Diagram not found", "user_id", userID, "diagram_id", diagramID)
		return nil, newError(KindNotFound, ErrNotFound.Message, err)
	case ctx.Err() != nil:
		return nil, canceledError(ctx)
	default:
		o.logger.Error("Diagram lookup failed", "user_id", userID, "diagram_id", diagramID, "error", err)
		return nil, internalError(err)
	}
}

// record hands rec to the sink without blocking the caller.
func (o *Orchestrator) record(ctx context.Context, rec Record) {
	if o.sink == nil {
		return
	}

	o.records.Add(1)
	go func() {
		defer o.records.Done()

		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.recordTimeout)
		defer cancel()

		if err := o.sink.Record(recordCtx, rec); err != nil {
			o.logger.Warn("Failed to record generation",
				"user_id", rec.UserID,
				"model", rec.Model,
				"error", err)
		}
	}()
}
