package scenarios

import (
	"context"
	"fmt"
	"strings"

	generationapi "github.com/c360studio/mermaidgen/processor/generation-api"
	"github.com/c360studio/mermaidgen/test/e2e/client"
	"github.com/c360studio/mermaidgen/test/e2e/config"
)

// GenerateScenario tests one-shot generation: a bare reply, a fenced reply
// wrapped in prose, the system prompt sent to the backend and the recorded
// history.
type GenerateScenario struct {
	name        string
	description string
	config      *config.Config
	http        *client.HTTPClient
	mock        *client.MockLLMClient
}

// NewGenerateScenario creates a new generate scenario.
func NewGenerateScenario(cfg *config.Config) *GenerateScenario {
	return &GenerateScenario{
		name:        "generate",
		description: "Tests generate → sanitize → validate → history for flowchart and sequence diagrams",
		config:      cfg,
	}
}

// Name returns the scenario name.
func (s *GenerateScenario) Name() string {
	return s.name
}

// Description returns the scenario description.
func (s *GenerateScenario) Description() string {
	return s.description
}

// Setup waits for the API and the mock backend.
func (s *GenerateScenario) Setup(ctx context.Context) error {
	s.http = client.NewHTTPClient(s.config.APIURL, config.E2EUserID+"-generate")
	s.mock = client.NewMockLLMClient(s.config.MockLLMURL)

	setupCtx, cancel := context.WithTimeout(ctx, s.config.SetupTimeout)
	defer cancel()
	if err := s.http.WaitForHealthy(setupCtx); err != nil {
		return fmt.Errorf("service not healthy: %w", err)
	}
	return nil
}

// Execute runs the generate scenario.
func (s *GenerateScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	defer result.Complete()

	runStages(ctx, result, s.config.StageTimeout, []stage{
		{"types", s.stageTypes},
		{"generate-flowchart", s.stageGenerateFlowchart},
		{"generate-fenced-sequence", s.stageGenerateSequence},
		{"verify-backend-prompt", s.stageVerifyPrompt},
		{"verify-history", s.stageVerifyHistory},
	})
	return result, nil
}

// Teardown cleans up after the scenario.
func (s *GenerateScenario) Teardown(_ context.Context) error {
	return nil
}

func (s *GenerateScenario) stageTypes(ctx context.Context, result *Result) error {
	h, err := s.http.GetHealth(ctx)
	if err != nil {
		return err
	}
	result.SetDetail("default_model", h.DefaultModel)
	if h.Status != "running" {
		return fmt.Errorf("status = %q, want running", h.Status)
	}
	return nil
}

func (s *GenerateScenario) stageGenerateFlowchart(ctx context.Context, result *Result) error {
	resp, err := s.http.Generate(ctx, generationapi.GenerateRequest{
		Prompt:      "User logs in, then sees the dashboard",
		DiagramType: "flowchart",
		Model:       config.ModelFlow,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	result.SetDetail("flowchart_code", resp.Code)
	result.SetMetric("flowchart_generation_time", resp.GenerationTime)

	if !resp.Valid {
		return fmt.Errorf("expected valid diagram, got error %q", resp.ValidationError)
	}
	if !strings.HasPrefix(resp.Code, "flowchart") {
		return fmt.Errorf("code does not start with flowchart: %q", resp.Code)
	}
	if resp.Attempts != 1 {
		return fmt.Errorf("attempts = %d, want 1", resp.Attempts)
	}
	if resp.Model != config.ModelFlow {
		return fmt.Errorf("model = %q, want %q", resp.Model, config.ModelFlow)
	}
	return nil
}

func (s *GenerateScenario) stageGenerateSequence(ctx context.Context, result *Result) error {
	resp, err := s.http.Generate(ctx, generationapi.GenerateRequest{
		Prompt:      "Alice greets Bob",
		DiagramType: "sequence",
		Model:       config.ModelSequence,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	result.SetDetail("sequence_code", resp.Code)

	if !resp.Valid {
		return fmt.Errorf("expected valid diagram, got error %q", resp.ValidationError)
	}
	if strings.Contains(resp.Code, "```") {
		return fmt.Errorf("code fence not stripped: %q", resp.Code)
	}
	if !strings.HasPrefix(resp.Code, "sequenceDiagram") {
		return fmt.Errorf("lead-in prose not stripped: %q", resp.Code)
	}
	return nil
}

func (s *GenerateScenario) stageVerifyPrompt(ctx context.Context, result *Result) error {
	reqs, err := s.mock.GetRequests(ctx, config.ModelSequence, 0)
	if err != nil {
		return fmt.Errorf("get captured requests: %w", err)
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no request captured for %s", config.ModelSequence)
	}

	last := reqs[len(reqs)-1]
	if len(last.Messages) != 2 || last.Messages[0].Role != "system" || last.Messages[1].Role != "user" {
		return fmt.Errorf("unexpected message layout: %+v", last.Messages)
	}
	if !strings.Contains(last.Messages[0].Content, "sequenceDiagram") {
		return fmt.Errorf("system prompt does not name the sequenceDiagram keyword")
	}
	if !strings.Contains(last.Messages[1].Content, "Alice greets Bob") {
		return fmt.Errorf("user prompt not forwarded: %q", last.Messages[1].Content)
	}
	result.SetMetric("system_prompt_length", len(last.Messages[0].Content))
	return nil
}

func (s *GenerateScenario) stageVerifyHistory(ctx context.Context, result *Result) error {
	// The log is written asynchronously.
	var count int
	err := poll(ctx, func() (bool, error) {
		history, err := s.http.GetHistory(ctx, 10)
		if err != nil {
			return false, err
		}
		count = len(history)
		return count >= 2, nil
	})
	result.SetMetric("history_entries", count)
	if err != nil {
		return fmt.Errorf("expected 2 history entries, got %d: %w", count, err)
	}
	return nil
}
