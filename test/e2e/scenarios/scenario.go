// Package scenarios holds the e2e scenarios run against a live mermaidgen API
// backed by mock-llm.
package scenarios

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/mermaidgen/test/e2e/client"
	"github.com/c360studio/mermaidgen/test/e2e/config"
)

// Scenario is one end-to-end check. Teardown runs even when Setup fails.
type Scenario interface {
	Name() string
	Description() string
	Setup(ctx context.Context) error
	Execute(ctx context.Context) (*Result, error)
	Teardown(ctx context.Context) error
}

// Result is the outcome of a scenario run. Safe for concurrent use.
type Result struct {
	mu sync.Mutex

	ScenarioName string        `json:"scenario_name"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`

	// Metrics holds counts and timings; Details holds values passed between
	// stages and echoed in the JSON report.
	Metrics  map[string]any `json:"metrics,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Stages   []StageResult  `json:"stages,omitempty"`
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewResult starts a result for the named scenario.
func NewResult(scenarioName string) *Result {
	return &Result{
		ScenarioName: scenarioName,
		StartTime:    time.Now(),
		Metrics:      make(map[string]any),
		Details:      make(map[string]any),
	}
}

// Complete stamps the end time.
func (r *Result) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

func (r *Result) AddWarning(warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, warning)
}

func (r *Result) AddStage(name string, success bool, duration time.Duration, err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, StageResult{Name: name, Success: success, Duration: duration, Error: err})
}

func (r *Result) SetMetric(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics[key] = value
}

func (r *Result) SetDetail(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Details[key] = value
}

// GetDetailString returns a string detail set by an earlier stage.
func (r *Result) GetDetailString(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	str, ok := r.Details[key].(string)
	return str, ok
}

// stage is one named step of a scenario.
type stage struct {
	name string
	fn   func(context.Context, *Result) error
}

// runStages executes stages in order, each under its own timeout, and stops
// at the first failure. The result is marked successful when all pass.
func runStages(ctx context.Context, result *Result, timeout time.Duration, stages []stage) {
	for _, st := range stages {
		stageStart := time.Now()
		stageCtx, cancel := context.WithTimeout(ctx, timeout)

		err := st.fn(stageCtx, result)
		cancel()

		stageDuration := time.Since(stageStart)
		result.SetMetric(fmt.Sprintf("%s_duration_ms", st.name), stageDuration.Milliseconds())

		if err != nil {
			result.AddStage(st.name, false, stageDuration, err.Error())
			result.AddError(fmt.Sprintf("%s: %v", st.name, err))
			result.Error = fmt.Sprintf("%s failed: %v", st.name, err)
			return
		}

		result.AddStage(st.name, true, stageDuration, "")
	}

	result.Success = true
}

// expectStatus checks that err is an API error with the given status.
func expectStatus(err error, status int) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("expected HTTP %d, got error %v", status, err)
	}
	if apiErr.StatusCode != status {
		return fmt.Errorf("expected HTTP %d, got %d: %s", status, apiErr.StatusCode, apiErr.Message)
	}
	return nil
}

// poll calls check every poll interval until it reports done, returns an
// error, or ctx ends.
func poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(config.DefaultPollInterval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
