package scenarios

import (
	"context"
	"fmt"
	"net/http"

	generationapi "github.com/c360studio/mermaidgen/processor/generation-api"
	"github.com/c360studio/mermaidgen/test/e2e/client"
	"github.com/c360studio/mermaidgen/test/e2e/config"
)

// FailuresScenario tests retries and the mapping of failed generations to
// HTTP statuses.
type FailuresScenario struct {
	name        string
	description string
	config      *config.Config
	http        *client.HTTPClient
	mock        *client.MockLLMClient
}

// NewFailuresScenario creates a new failures scenario.
func NewFailuresScenario(cfg *config.Config) *FailuresScenario {
	return &FailuresScenario{
		name:        "failures",
		description: "Tests retry after an invalid reply, validation failure, backend errors and request validation",
		config:      cfg,
	}
}

// Name returns the scenario name.
func (s *FailuresScenario) Name() string {
	return s.name
}

// Description returns the scenario description.
func (s *FailuresScenario) Description() string {
	return s.description
}

// Setup waits for the API and the mock backend.
func (s *FailuresScenario) Setup(ctx context.Context) error {
	s.http = client.NewHTTPClient(s.config.APIURL, config.E2EUserID+"-failures")
	s.mock = client.NewMockLLMClient(s.config.MockLLMURL)

	setupCtx, cancel := context.WithTimeout(ctx, s.config.SetupTimeout)
	defer cancel()
	if err := s.http.WaitForHealthy(setupCtx); err != nil {
		return fmt.Errorf("service not healthy: %w", err)
	}
	return nil
}

// Execute runs the failures scenario.
func (s *FailuresScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	defer result.Complete()

	runStages(ctx, result, s.config.StageTimeout, []stage{
		{"retry-after-invalid", s.stageRetry},
		{"validation-failed", s.stageValidationFailed},
		{"backend-error", s.stageBackendError},
		{"unknown-model", s.stageUnknownModel},
		{"bad-requests", s.stageBadRequests},
		{"missing-user", s.stageMissingUser},
	})
	return result, nil
}

// Teardown cleans up after the scenario.
func (s *FailuresScenario) Teardown(_ context.Context) error {
	return nil
}

func (s *FailuresScenario) stageRetry(ctx context.Context, result *Result) error {
	before, err := s.mock.CallsFor(ctx, config.ModelRetry)
	if err != nil {
		return fmt.Errorf("get mock stats: %w", err)
	}

	resp, err := s.http.Generate(ctx, generationapi.GenerateRequest{
		Prompt: "A retried flow",
		Model:  config.ModelRetry,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	result.SetMetric("retry_attempts", resp.Attempts)

	if !resp.Valid {
		return fmt.Errorf("expected a valid diagram after retry, got %q", resp.ValidationError)
	}
	// The refusal fixture is served only on the very first call.
	if before == 0 && resp.Attempts != 2 {
		return fmt.Errorf("attempts = %d, want 2", resp.Attempts)
	}
	return nil
}

func (s *FailuresScenario) stageValidationFailed(ctx context.Context, result *Result) error {
	resp, err := s.http.Generate(ctx, generationapi.GenerateRequest{
		Prompt: "Something the model refuses",
		Model:  config.ModelBroken,
	})
	if err := expectStatus(err, http.StatusUnprocessableEntity); err != nil {
		return err
	}
	result.SetMetric("validation_failed_attempts", resp.Attempts)

	if resp.Valid || resp.Kind != "validation_failed" {
		return fmt.Errorf("valid=%v kind=%q, want invalid validation_failed", resp.Valid, resp.Kind)
	}
	if resp.Attempts < 1 {
		return fmt.Errorf("attempts = %d, want at least 1", resp.Attempts)
	}
	return nil
}

func (s *FailuresScenario) stageBackendError(ctx context.Context, result *Result) error {
	resp, err := s.http.Generate(ctx, generationapi.GenerateRequest{
		Prompt: "Backend is down",
		Model:  config.ModelDown,
	})
	if err := expectStatus(err, http.StatusBadGateway); err != nil {
		return err
	}
	result.SetDetail("backend_error", resp.ValidationError)

	if resp.Kind != "backend_error" {
		return fmt.Errorf("kind = %q, want backend_error", resp.Kind)
	}
	return nil
}

func (s *FailuresScenario) stageUnknownModel(ctx context.Context, _ *Result) error {
	before, err := s.mock.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get mock stats: %w", err)
	}

	_, err = s.http.Generate(ctx, generationapi.GenerateRequest{Prompt: "x", Model: "not-allowed"})
	if err := expectStatus(err, http.StatusBadRequest); err != nil {
		return err
	}

	after, err := s.mock.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get mock stats: %w", err)
	}
	if after.TotalCalls != before.TotalCalls {
		return fmt.Errorf("backend was called for a rejected model")
	}
	return nil
}

func (s *FailuresScenario) stageBadRequests(ctx context.Context, _ *Result) error {
	cases := []struct {
		name string
		req  generationapi.GenerateRequest
	}{
		{"empty prompt", generationapi.GenerateRequest{Prompt: "   "}},
		{"unknown type", generationapi.GenerateRequest{Prompt: "x", DiagramType: "mindmap"}},
	}
	for _, tc := range cases {
		_, err := s.http.Generate(ctx, tc.req)
		if err := expectStatus(err, http.StatusBadRequest); err != nil {
			return fmt.Errorf("%s: %w", tc.name, err)
		}
	}

	_, err := s.http.Modify(ctx, generationapi.ModifyRequest{
		DiagramID:          "does-not-exist",
		ModificationPrompt: "add a node",
	})
	if err := expectStatus(err, http.StatusNotFound); err != nil {
		return fmt.Errorf("modify missing diagram: %w", err)
	}
	return nil
}

func (s *FailuresScenario) stageMissingUser(ctx context.Context, _ *Result) error {
	_, err := s.http.AsUser("").Generate(ctx, generationapi.GenerateRequest{Prompt: "x"})
	return expectStatus(err, http.StatusUnauthorized)
}
