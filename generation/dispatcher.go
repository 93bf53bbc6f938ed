package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/llm"
)

// DispatcherConfig bounds concurrency and shapes backend requests.
type DispatcherConfig struct {
	// MaxConcurrent is the number of generations allowed to call the backend at once.
	MaxConcurrent int

	// MaxQueue is the number of generations allowed to wait for a permit.
	MaxQueue int

	// CallTimeout bounds each backend call. 0 leaves it to the backend.
	CallTimeout time.Duration

	// MaxTokens and Temperature are sent with every call.
	MaxTokens   int
	Temperature float64

	Retry llm.RetryConfig
}

// DefaultDispatcherConfig returns the dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrent: 2,
		MaxQueue:      50,
		CallTimeout:   llm.DefaultTimeout,
		MaxTokens:     1000,
		Temperature:   0.1,
		Retry:         llm.DefaultRetryConfig(),
	}
}

// Dispatcher admits generations through a bounded gate and runs the
// call/sanitize/validate loop for each.
type Dispatcher struct {
	backend Backend
	cfg     DispatcherConfig
	gate    *gate
	logger  *slog.Logger
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics collectors.
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a Dispatcher. Non-positive limits take defaults.
func NewDispatcher(backend Backend, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	d := &Dispatcher{
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.gate = newGate(cfg.MaxConcurrent, cfg.MaxQueue, d.metrics)
	return d
}

// Generate runs up to maxRetries+1 backend calls and returns the first valid
// result, or the best-effort result once retries are exhausted. Failures are
// reported in the Outcome, never as a Go error.
func (d *Dispatcher) Generate(ctx context.Context, t diagram.Type, system, user, model string, maxRetries int) Outcome {
	start := time.Now()
	if maxRetries < 0 {
		maxRetries = d.cfg.Retry.MaxRetries
	}
	if !t.IsValid() {
		t = diagram.DefaultType
	}

	out := Outcome{Model: model, DiagramType: t}
	finish := func() Outcome {
		out.AttemptCount = len(out.Attempts)
		out.Elapsed = time.Since(start)
		return out
	}

	release, err := d.gate.acquire(ctx)
	if err != nil {
		out.Kind, out.Error = KindOf(err), err.Error()
		d.logger.Warn("Generation not admitted", "model", model, "kind", out.Kind, "waiting", d.gate.Waiting())
		return finish()
	}
	defer release()

	temperature := d.cfg.Temperature
	req := llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temperature,
		MaxTokens:   d.cfg.MaxTokens,
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		d.logger.Debug("Generation attempt started", "model", model, "type", t, "attempt", attempt+1, "max_attempts", maxRetries+1)

		a := d.call(ctx, attempt, t, req)
		out.Attempts = append(out.Attempts, a)

		if a.Err != nil {
			if ctx.Err() != nil {
				out.Kind, out.Error = KindCanceled, ErrCanceled.Message
				return finish()
			}

			d.metrics.backendCall(model, failureResult(a.Err))
			out.Kind, out.Error = backendFailure(a.Err)
			d.logger.Warn("Backend call failed",
				"model", model,
				"attempt", attempt+1,
				"elapsed", a.Elapsed,
				"error", a.Err)

			if !retryable(a.Err) || attempt == maxRetries {
				return finish()
			}
			if err := d.wait(ctx, d.cfg.Retry.Backoff(attempt, a.Err), model, attempt); err != nil {
				out.Kind, out.Error = KindCanceled, ErrCanceled.Message
				return finish()
			}
			continue
		}

		d.metrics.backendCall(model, "ok")
		out.Code = a.SanitizedCode

		if a.Valid {
			out.Valid, out.Kind, out.Error = true, "", ""
			d.logger.Debug("Generation valid", "model", model, "attempt", attempt+1, "code_length", len(a.SanitizedCode))
			return finish()
		}

		out.Kind = KindValidationFailed
		out.Error = "validation failed: " + a.ValidationError
		d.logger.Info("Generated code failed validation",
			"model", model,
			"attempt", attempt+1,
			"reason", a.ValidationError)

		if attempt == maxRetries {
			return finish()
		}
		if err := d.wait(ctx, d.cfg.Retry.InvalidDelay, model, attempt); err != nil {
			out.Kind, out.Error = KindCanceled, ErrCanceled.Message
			return finish()
		}
	}

	return finish()
}

// call performs one backend call and folds its reply into an Attempt.
func (d *Dispatcher) call(ctx context.Context, index int, t diagram.Type, req llm.Request) Attempt {
	start := time.Now()
	a := Attempt{Index: index}

	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	resp, err := d.backend.Complete(callCtx, req)
	a.Elapsed = time.Since(start)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !llm.IsTimeout(err) {
			err = llm.NewTimeoutError(err)
		}
		a.Err = err
		return a
	}

	a.RawResponse = resp.Content
	sanitized := diagram.Extract(resp.Content)
	a.SanitizedCode = sanitized.Code

	if verr := diagram.Validate(sanitized.Code, t); verr != nil {
		a.ValidationError = validationReason(verr)
		return a
	}
	a.Valid = true
	return a
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration, model string, attempt int) error {
	d.logger.Debug("Retrying generation", "model", model, "attempt", attempt+1, "delay", delay)
	return d.sleep(ctx, delay)
}

// retryable reports whether a backend error may succeed on another call.
// Every status error is retried; other fatal errors are configuration
// problems that no retry will fix.
func retryable(err error) bool {
	if _, ok := llm.StatusCode(err); ok {
		return true
	}
	return !llm.IsFatal(err)
}

// backendFailure maps a backend error to an outcome kind and caller message.
func backendFailure(err error) (Kind, string) {
	if code, ok := llm.StatusCode(err); ok {
		return KindBackendError, fmt.Sprintf("backend error: status %d", code)
	}
	if errors.Is(err, llm.ErrMalformedResponse) {
		return KindBackendError, "backend error: malformed response"
	}
	if llm.IsTimeout(err) {
		return KindBackendUnavailable, "backend unavailable: request timed out"
	}
	if llm.IsFatal(err) {
		return KindInternal, ErrInternal.Message
	}
	return KindBackendUnavailable, "backend unavailable"
}

func failureResult(err error) string {
	if llm.IsTimeout(err) {
		return "timeout"
	}
	if kind, _ := backendFailure(err); kind == KindBackendError {
		return "error"
	}
	return "unavailable"
}

func validationReason(err error) string {
	var verr *diagram.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
