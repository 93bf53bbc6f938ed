package generationapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/generation"
	"github.com/c360studio/mermaidgen/storage"
	"github.com/c360studio/mermaidgen/workspace"
)

// statusClientClosedRequest is reported when the caller went away before
// the generation finished.
const statusClientClosedRequest = 499

// RegisterHTTPHandlers registers all generation-api HTTP handlers under the given prefix.
// Handlers are registered as:
//
//	GET    <prefix>/types
//	GET    <prefix>/models
//	GET    <prefix>/models/compare
//	GET    <prefix>/health
//	POST   <prefix>/generate
//	POST   <prefix>/modify
//	GET    <prefix>/history
//	GET    <prefix>/stats
//	GET    <prefix>/diagrams
//	GET    <prefix>/diagrams/{id}
//	DELETE <prefix>/diagrams/{id}
//	*      <prefix>/workspace/...
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"types", c.handleTypes)
	mux.HandleFunc(prefix+"models", c.handleModels)
	mux.HandleFunc(prefix+"models/compare", c.withUser(c.handleCompareModels))
	mux.HandleFunc(prefix+"health", c.handleHealth)
	mux.HandleFunc(prefix+"generate", c.withUser(c.handleGenerate))
	mux.HandleFunc(prefix+"modify", c.withUser(c.handleModify))
	mux.HandleFunc(prefix+"history", c.withUser(c.handleHistory))
	mux.HandleFunc(prefix+"stats", c.withUser(c.handleStats))
	mux.HandleFunc(prefix+"diagrams", c.withUser(c.handleListDiagrams))
	mux.HandleFunc(prefix+"diagrams/", c.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		c.handleDiagram(w, r, userID, strings.TrimPrefix(r.URL.Path, prefix+"diagrams/"))
	}))
	workspaceHandler := c.withUser(func(w http.ResponseWriter, r *http.Request, userID string) {
		c.handleWorkspace(w, r, userID, strings.TrimPrefix(r.URL.Path, prefix+"workspace"))
	})
	mux.HandleFunc(prefix+"workspace", workspaceHandler)
	mux.HandleFunc(prefix+"workspace/", workspaceHandler)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser rejects requests without the identity header.
func (c *Component) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(c.config.UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+c.config.UserHeader+" header")
			return
		}
		h(w, r, userID)
	}
}

// ----------------------------------------------------------------------------
// GET /types, /models, /models/compare, /health
// ----------------------------------------------------------------------------

// DiagramTypeInfo describes one supported diagram type.
type DiagramTypeInfo struct {
	Name        string `json:"name"`
	Keyword     string `json:"keyword"`
	Description string `json:"description"`
}

func (c *Component) handleTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	types := make([]DiagramTypeInfo, 0, len(diagram.All()))
	for _, t := range diagram.All() {
		types = append(types, DiagramTypeInfo{Name: string(t), Keyword: t.Marker(), Description: t.Description()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"types":   types,
		"default": diagram.DefaultType,
	})
}

func (c *Component) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  c.deps.Models.ListModels(),
		"default": c.deps.Models.Default(),
	})
}

func (c *Component) handleCompareModels(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if c.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "generation log not configured")
		return
	}

	comparison, err := c.deps.History.CompareModels(r.Context())
	if err != nil {
		c.logger.Error("Model comparison failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": comparison})
}

func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	health := c.Health()
	resp := map[string]any{
		"status":        health.Status,
		"default_model": c.deps.Models.Default(),
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}

	if c.deps.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), c.config.PingTimeout)
		defer cancel()
		err := c.deps.Backend.Ping(ctx)
		resp["llm_connected"] = err == nil
		if err != nil {
			c.logger.Warn("Backend ping failed", "error", err)
		}
	}

	writeJSON(w, status, resp)
}

// ----------------------------------------------------------------------------
// POST /generate, POST /modify
// ----------------------------------------------------------------------------

// GenerateRequest is the request body for POST /generate.
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	DiagramType string `json:"diagram_type,omitempty"`
	Model       string `json:"model,omitempty"`
}

// ModifyRequest is the request body for POST /modify.
type ModifyRequest struct {
	DiagramID          string `json:"diagram_id"`
	ModificationPrompt string `json:"modification_prompt"`
	Model              string `json:"model,omitempty"`
}

// GenerationResponse is the response body of generation endpoints.
type GenerationResponse struct {
	Code            string  `json:"mermaid_code"`
	OriginalPrompt  string  `json:"original_prompt"`
	DiagramType     string  `json:"diagram_type"`
	DiagramID       string  `json:"diagram_id,omitempty"`
	Model           string  `json:"model,omitempty"`
	Valid           bool    `json:"is_valid"`
	ValidationError string  `json:"validation_error,omitempty"`
	Kind            string  `json:"kind,omitempty"`
	Attempts        int     `json:"attempts"`
	GenerationTime  float64 `json:"generation_time"`
}

func newGenerationResponse(prompt string, out generation.Outcome) GenerationResponse {
	return GenerationResponse{
		Code:            out.Code,
		OriginalPrompt:  prompt,
		DiagramType:     string(out.DiagramType),
		DiagramID:       out.DiagramID,
		Model:           out.Model,
		Valid:           out.Valid,
		ValidationError: out.Error,
		Kind:            string(out.Kind),
		Attempts:        out.AttemptCount,
		GenerationTime:  out.Elapsed.Seconds(),
	}
}

func (c *Component) handleGenerate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req GenerateRequest
	if !c.decode(w, r, &req) {
		return
	}
	t, ok := c.parseType(w, req.DiagramType)
	if !ok || !c.checkPrompt(w, "prompt", req.Prompt) {
		return
	}

	out, err := c.deps.Generator.Create(r.Context(), userID, req.Prompt, t, req.Model)
	if err != nil {
		c.writeGenerationError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(out), newGenerationResponse(req.Prompt, out))
}

func (c *Component) handleModify(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ModifyRequest
	if !c.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DiagramID) == "" {
		writeError(w, http.StatusBadRequest, "diagram_id is required")
		return
	}
	if !c.checkPrompt(w, "modification_prompt", req.ModificationPrompt) {
		return
	}

	out, err := c.deps.Generator.Modify(r.Context(), userID, req.DiagramID, req.ModificationPrompt, req.Model)
	if err != nil {
		c.writeGenerationError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(out), newGenerationResponse(req.ModificationPrompt, out))
}

// ----------------------------------------------------------------------------
// GET /history, GET /stats
// ----------------------------------------------------------------------------

func (c *Component) handleHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if c.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "generation log not configured")
		return
	}

	limit := c.config.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, c.config.MaxHistoryLimit)
	}

	history, err := c.deps.History.History(r.Context(), userID, limit)
	if err != nil {
		c.logger.Error("History lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if history == nil {
		history = []storage.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

func (c *Component) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if c.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "generation log not configured")
		return
	}

	window := c.config.StatsWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	stats, err := c.deps.History.StatsByModel(r.Context(), userID, time.Now().Add(-window))
	if err != nil {
		c.logger.Error("Stats lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if stats == nil {
		stats = []storage.ModelStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":       stats,
		"period_days": int(window / (24 * time.Hour)),
	})
}

// ----------------------------------------------------------------------------
// /diagrams
// ----------------------------------------------------------------------------

func (c *Component) handleListDiagrams(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if c.deps.Diagrams == nil {
		writeError(w, http.StatusNotImplemented, "diagram store not configured")
		return
	}

	diagrams, err := c.deps.Diagrams.List(r.Context(), userID)
	if err != nil {
		c.logger.Error("Diagram listing failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if diagrams == nil {
		diagrams = []*storage.Diagram{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagrams": diagrams, "count": len(diagrams)})
}

func (c *Component) handleDiagram(w http.ResponseWriter, r *http.Request, userID, diagramID string) {
	if c.deps.Diagrams == nil {
		writeError(w, http.StatusNotImplemented, "diagram store not configured")
		return
	}
	if diagramID == "" || strings.Contains(diagramID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := c.deps.Diagrams.Find(r.Context(), userID, diagramID)
		if err != nil {
			c.writeStoreError(w, userID, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodDelete:
		if err := c.deps.Diagrams.Delete(r.Context(), userID, diagramID); err != nil {
			c.writeStoreError(w, userID, err)
			return
		}
		if c.deps.Workspaces != nil {
			c.deps.Workspaces.Discard(r.Context(), userID, diagramID)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ----------------------------------------------------------------------------
// /workspace
// ----------------------------------------------------------------------------

// OpenWorkspaceRequest is the request body for POST /workspace.
type OpenWorkspaceRequest struct {
	DiagramID string `json:"diagram_id,omitempty"`
}

// WorkspaceModifyRequest is the request body for POST /workspace/{id}/modify.
type WorkspaceModifyRequest struct {
	ModificationPrompt string `json:"modification_prompt"`
	Model              string `json:"model,omitempty"`
}

// WorkspaceSaveRequest is the request body for POST /workspace/{id}/save.
type WorkspaceSaveRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// WorkspaceResponse is returned by workspace endpoints. Generation is set
// by generate and modify.
type WorkspaceResponse struct {
	Workspace  *workspace.Workspace `json:"workspace"`
	Generation *GenerationResponse  `json:"generation,omitempty"`
}

// handleWorkspace routes /workspace[/<id>][/<action>]. The id "new", or
// no id, addresses the caller's unsaved workspace.
func (c *Component) handleWorkspace(w http.ResponseWriter, r *http.Request, userID, rest string) {
	if c.deps.Workspaces == nil {
		writeError(w, http.StatusNotImplemented, "workspaces not configured")
		return
	}

	var id, action string
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "":
	case len(parts) == 1 && (parts[0] == "generate" || parts[0] == "modify" || parts[0] == "save"):
		action = parts[0]
	case len(parts) == 1:
		id = parts[0]
	case len(parts) == 2:
		id, action = parts[0], parts[1]
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && id == "" && r.Method == http.MethodPost:
		c.handleOpenWorkspace(w, r, userID)
	case action == "" && r.Method == http.MethodGet:
		ws, err := c.deps.Workspaces.Get(r.Context(), userID, id)
		c.writeWorkspace(w, ws, nil, err)
	case action == "" && r.Method == http.MethodPatch:
		var patch workspace.Patch
		if !c.decode(w, r, &patch) {
			return
		}
		if patch.DiagramType != nil && !diagram.Type(*patch.DiagramType).IsValid() {
			writeError(w, http.StatusBadRequest, invalidTypeMessage())
			return
		}
		ws, err := c.deps.Workspaces.Update(r.Context(), userID, id, patch)
		c.writeWorkspace(w, ws, nil, err)
	case action == "" && r.Method == http.MethodDelete:
		c.deps.Workspaces.Discard(r.Context(), userID, id)
		w.WriteHeader(http.StatusNoContent)
	case action == "generate" && r.Method == http.MethodPost:
		c.handleWorkspaceGenerate(w, r, userID, id)
	case action == "modify" && r.Method == http.MethodPost:
		c.handleWorkspaceModify(w, r, userID, id)
	case action == "save" && r.Method == http.MethodPost:
		c.handleWorkspaceSave(w, r, userID, id)
	case action == "" || action == "generate" || action == "modify" || action == "save":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (c *Component) handleOpenWorkspace(w http.ResponseWriter, r *http.Request, userID string) {
	var req OpenWorkspaceRequest
	if r.ContentLength != 0 && !c.decode(w, r, &req) {
		return
	}
	ws, err := c.deps.Workspaces.Open(r.Context(), userID, req.DiagramID)
	c.writeWorkspace(w, ws, nil, err)
}

func (c *Component) handleWorkspaceGenerate(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req GenerateRequest
	if !c.decode(w, r, &req) {
		return
	}
	t, ok := c.parseType(w, req.DiagramType)
	if !ok || !c.checkPrompt(w, "prompt", req.Prompt) {
		return
	}

	ws, out, err := c.deps.Workspaces.Generate(r.Context(), userID, id, req.Prompt, t, req.Model)
	gen := newGenerationResponse(req.Prompt, out)
	c.writeWorkspace(w, ws, &gen, err)
}

func (c *Component) handleWorkspaceModify(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req WorkspaceModifyRequest
	if !c.decode(w, r, &req) {
		return
	}
	if !c.checkPrompt(w, "modification_prompt", req.ModificationPrompt) {
		return
	}

	ws, out, err := c.deps.Workspaces.Modify(r.Context(), userID, id, req.ModificationPrompt, req.Model)
	gen := newGenerationResponse(req.ModificationPrompt, out)
	c.writeWorkspace(w, ws, &gen, err)
}

func (c *Component) handleWorkspaceSave(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req WorkspaceSaveRequest
	if !c.decode(w, r, &req) {
		return
	}
	ws, err := c.deps.Workspaces.Save(r.Context(), userID, id, req.Title, req.Description)
	c.writeWorkspace(w, ws, nil, err)
}

// writeWorkspace writes ws, or the error status for err. A failed
// generation still carries the updated workspace.
func (c *Component) writeWorkspace(w http.ResponseWriter, ws *workspace.Workspace, gen *GenerationResponse, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, WorkspaceResponse{Workspace: ws, Generation: gen})
	case errors.Is(err, workspace.ErrGenerationFailed) && ws != nil:
		writeJSON(w, kindStatus(generation.Kind(gen.Kind)), WorkspaceResponse{Workspace: ws, Generation: gen})
	case errors.Is(err, workspace.ErrDiagramNotFound):
		writeError(w, http.StatusNotFound, workspace.ErrDiagramNotFound.Error())
	case errors.Is(err, workspace.ErrInvalidDiagramID), errors.Is(err, workspace.ErrEmptyWorkspace):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workspace.ErrNoDiagramStore):
		writeError(w, http.StatusNotImplemented, err.Error())
	case generation.KindOf(err) != "":
		c.writeGenerationError(w, err)
	default:
		c.logger.Error("Workspace operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// decode reads a JSON body into v, writing a 400 on failure.
func (c *Component) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// parseType validates an optional diagram type. Empty selects the default.
func (c *Component) parseType(w http.ResponseWriter, raw string) (diagram.Type, bool) {
	if raw == "" {
		return diagram.DefaultType, true
	}
	t := diagram.Type(raw)
	if !t.IsValid() {
		writeError(w, http.StatusBadRequest, invalidTypeMessage())
		return "", false
	}
	return t, true
}

func (c *Component) checkPrompt(w http.ResponseWriter, field, text string) bool {
	switch {
	case strings.TrimSpace(text) == "":
		writeError(w, http.StatusBadRequest, field+" is required")
		return false
	case len(text) > c.config.MaxPromptLength:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s exceeds %d characters", field, c.config.MaxPromptLength))
		return false
	}
	return true
}

func invalidTypeMessage() string {
	names := make([]string, 0, len(diagram.All()))
	for _, t := range diagram.All() {
		names = append(names, string(t))
	}
	return "invalid diagram type, available: " + strings.Join(names, ", ")
}

func (c *Component) writeGenerationError(w http.ResponseWriter, err error) {
	kind := generation.KindOf(err)
	if kind == generation.KindSaturated {
		w.Header().Set("Retry-After", "1")
	}
	if kind == "" || kind == generation.KindInternal {
		c.logger.Error("Generation request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// generation.Error messages are safe to show.
	writeError(w, kindStatus(kind), err.Error())
}

func (c *Component) writeStoreError(w http.ResponseWriter, userID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "diagram not found")
		return
	}
	c.logger.Error("Diagram store failed", "user_id", userID, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// outcomeStatus is the response status of a completed generation.
func outcomeStatus(out generation.Outcome) int {
	if out.Valid {
		return http.StatusOK
	}
	return kindStatus(out.Kind)
}

func kindStatus(kind generation.Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case generation.KindInvalidModel:
		return http.StatusBadRequest
	case generation.KindNotFound:
		return http.StatusNotFound
	case generation.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case generation.KindBackendError:
		return http.StatusBadGateway
	case generation.KindSaturated:
		return http.StatusTooManyRequests
	case generation.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case generation.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Response is already partially written on failure; nothing to report.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
