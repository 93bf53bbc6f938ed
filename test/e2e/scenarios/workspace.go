package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	generationapi "github.com/c360studio/mermaidgen/processor/generation-api"
	"github.com/c360studio/mermaidgen/test/e2e/client"
	"github.com/c360studio/mermaidgen/test/e2e/config"
)

// WorkspaceScenario tests the editing session: generate into an unsaved
// workspace, save it as a diagram, modify it, and check ownership.
type WorkspaceScenario struct {
	name        string
	description string
	config      *config.Config
	http        *client.HTTPClient
}

// NewWorkspaceScenario creates a new workspace scenario.
func NewWorkspaceScenario(cfg *config.Config) *WorkspaceScenario {
	return &WorkspaceScenario{
		name:        "workspace",
		description: "Tests open → generate → save → modify → save → delete through the workspace API",
		config:      cfg,
	}
}

// Name returns the scenario name.
func (s *WorkspaceScenario) Name() string {
	return s.name
}

// Description returns the scenario description.
func (s *WorkspaceScenario) Description() string {
	return s.description
}

// Setup waits for the API and clears the scenario user's unsaved workspace.
func (s *WorkspaceScenario) Setup(ctx context.Context) error {
	s.http = client.NewHTTPClient(s.config.APIURL, config.E2EUserID+"-workspace")

	setupCtx, cancel := context.WithTimeout(ctx, s.config.SetupTimeout)
	defer cancel()
	if err := s.http.WaitForHealthy(setupCtx); err != nil {
		return fmt.Errorf("service not healthy: %w", err)
	}
	return s.http.DiscardWorkspace(ctx, "")
}

// Execute runs the workspace scenario.
func (s *WorkspaceScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	defer result.Complete()

	runStages(ctx, result, s.config.StageTimeout, []stage{
		{"open-new", s.stageOpenNew},
		{"generate", s.stageGenerate},
		{"modify-unsaved-rejected", s.stageModifyUnsaved},
		{"save", s.stageSave},
		{"modify", s.stageModify},
		{"save-again", s.stageSaveAgain},
		{"foreign-user", s.stageForeignUser},
		{"delete", s.stageDelete},
	})
	return result, nil
}

// Teardown drops the unsaved workspace left by a failed run.
func (s *WorkspaceScenario) Teardown(ctx context.Context) error {
	return s.http.DiscardWorkspace(ctx, "")
}

func (s *WorkspaceScenario) stageOpenNew(ctx context.Context, _ *Result) error {
	resp, err := s.http.OpenWorkspace(ctx, "")
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	ws := resp.Workspace
	if ws == nil {
		return fmt.Errorf("no workspace in response")
	}
	if ws.DiagramID != "" || ws.Code != "" || len(ws.History) != 0 {
		return fmt.Errorf("new workspace is not empty: %+v", ws)
	}
	return nil
}

func (s *WorkspaceScenario) stageGenerate(ctx context.Context, result *Result) error {
	resp, err := s.http.WorkspaceGenerate(ctx, "", generationapi.GenerateRequest{
		Prompt:      "Order placed, paid, shipped",
		DiagramType: "flowchart",
		Model:       config.ModelFlow,
	})
	if err != nil {
		return fmt.Errorf("workspace generate: %w", err)
	}
	ws := resp.Workspace
	if resp.Generation == nil || !resp.Generation.Valid {
		return fmt.Errorf("expected a valid generation, got %+v", resp.Generation)
	}
	if !ws.HasUnsavedChanges {
		return fmt.Errorf("workspace should have unsaved changes")
	}
	if ws.CurrentPrompt != "Order placed, paid, shipped" {
		return fmt.Errorf("current prompt = %q", ws.CurrentPrompt)
	}
	if len(ws.History) != 1 {
		return fmt.Errorf("history has %d entries, want 1", len(ws.History))
	}
	result.SetDetail("generated_code", ws.Code)
	return nil
}

func (s *WorkspaceScenario) stageModifyUnsaved(ctx context.Context, _ *Result) error {
	_, err := s.http.WorkspaceModify(ctx, "", generationapi.WorkspaceModifyRequest{
		ModificationPrompt: "add a refund step",
		Model:              config.ModelFlow,
	})
	return expectStatus(err, http.StatusBadRequest)
}

func (s *WorkspaceScenario) stageSave(ctx context.Context, result *Result) error {
	resp, err := s.http.WorkspaceSave(ctx, "", generationapi.WorkspaceSaveRequest{
		Title:       "Order flow",
		Description: "Created by the e2e runner",
	})
	if err != nil {
		return fmt.Errorf("workspace save: %w", err)
	}
	ws := resp.Workspace
	if ws.DiagramID == "" {
		return fmt.Errorf("saved workspace has no diagram id")
	}
	if ws.HasUnsavedChanges {
		return fmt.Errorf("saved workspace still has unsaved changes")
	}
	result.SetDetail("diagram_id", ws.DiagramID)

	d, err := s.http.GetDiagram(ctx, ws.DiagramID)
	if err != nil {
		return fmt.Errorf("get saved diagram: %w", err)
	}
	if d.Title != "Order flow" || d.Type != "flowchart" || d.Prompt != "Order placed, paid, shipped" {
		return fmt.Errorf("saved diagram mismatch: %+v", d)
	}
	return nil
}

func (s *WorkspaceScenario) stageModify(ctx context.Context, result *Result) error {
	id, _ := result.GetDetailString("diagram_id")

	resp, err := s.http.WorkspaceModify(ctx, id, generationapi.WorkspaceModifyRequest{
		ModificationPrompt: "add a refund step",
		Model:              config.ModelFlow,
	})
	if err != nil {
		return fmt.Errorf("workspace modify: %w", err)
	}
	ws := resp.Workspace
	if len(ws.History) != 2 {
		return fmt.Errorf("history has %d entries, want 2", len(ws.History))
	}
	last := ws.History[len(ws.History)-1]
	if !last.Modification || !strings.HasPrefix(last.Prompt, "Modification: ") {
		return fmt.Errorf("last history entry is not a modification: %+v", last)
	}
	if !ws.HasUnsavedChanges {
		return fmt.Errorf("modified workspace should have unsaved changes")
	}
	return nil
}

func (s *WorkspaceScenario) stageSaveAgain(ctx context.Context, result *Result) error {
	id, _ := result.GetDetailString("diagram_id")

	resp, err := s.http.WorkspaceSave(ctx, id, generationapi.WorkspaceSaveRequest{})
	if err != nil {
		return fmt.Errorf("workspace save: %w", err)
	}
	if resp.Workspace.DiagramID != id {
		return fmt.Errorf("save created a new diagram %s instead of updating %s", resp.Workspace.DiagramID, id)
	}

	diagrams, err := s.http.ListDiagrams(ctx)
	if err != nil {
		return fmt.Errorf("list diagrams: %w", err)
	}
	for _, d := range diagrams {
		if d.ID == id {
			if d.Title != "Order flow" {
				return fmt.Errorf("title = %q after saving without a title", d.Title)
			}
			return nil
		}
	}
	return fmt.Errorf("diagram %s missing from list of %d", id, len(diagrams))
}

func (s *WorkspaceScenario) stageForeignUser(ctx context.Context, result *Result) error {
	id, _ := result.GetDetailString("diagram_id")
	other := s.http.AsUser(config.E2EOtherUser)

	_, err := other.GetDiagram(ctx, id)
	if err := expectStatus(err, http.StatusNotFound); err != nil {
		return fmt.Errorf("foreign get: %w", err)
	}
	_, err = other.OpenWorkspace(ctx, id)
	if err := expectStatus(err, http.StatusNotFound); err != nil {
		return fmt.Errorf("foreign open: %w", err)
	}
	return nil
}

func (s *WorkspaceScenario) stageDelete(ctx context.Context, result *Result) error {
	id, _ := result.GetDetailString("diagram_id")

	if err := s.http.DeleteDiagram(ctx, id); err != nil {
		return fmt.Errorf("delete diagram: %w", err)
	}
	_, err := s.http.GetDiagram(ctx, id)
	return expectStatus(err, http.StatusNotFound)
}
