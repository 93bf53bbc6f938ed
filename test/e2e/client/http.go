// Package client provides test clients for e2e scenarios.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	generationapi "github.com/c360studio/mermaidgen/processor/generation-api"
	"github.com/c360studio/mermaidgen/storage"
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPClient provides HTTP operations against the mermaidgen API for e2e
// tests. Every request carries the user header of its client.
type HTTPClient struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client acting as userID.
func NewHTTPClient(baseURL, userID string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 240 * time.Second,
		},
	}
}

// AsUser returns a client for the same API acting as another user.
func (c *HTTPClient) AsUser(userID string) *HTTPClient {
	return &HTTPClient{baseURL: c.baseURL, userID: userID, httpClient: c.httpClient}
}

// Health is the body of GET /health.
type Health struct {
	Status       string `json:"status"`
	DefaultModel string `json:"default_model"`
	LLMConnected bool   `json:"llm_connected"`
}

// GetHealth returns the service health.
func (c *HTTPClient) GetHealth(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WaitForHealthy polls GET /health until the service and its backend are up.
func (c *HTTPClient) WaitForHealthy(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		h, err := c.GetHealth(ctx)
		switch {
		case err != nil:
			lastErr = err
		case !h.LLMConnected:
			lastErr = fmt.Errorf("backend not connected")
		default:
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for service health: %w", lastErr)
		case <-ticker.C:
		}
	}
}

// Generate calls POST /generate. Failed generations return the decoded
// body together with an *APIError.
func (c *HTTPClient) Generate(ctx context.Context, req generationapi.GenerateRequest) (*generationapi.GenerationResponse, error) {
	var resp generationapi.GenerationResponse
	err := c.do(ctx, http.MethodPost, "/generate", req, &resp)
	return &resp, err
}

// Modify calls POST /modify.
func (c *HTTPClient) Modify(ctx context.Context, req generationapi.ModifyRequest) (*generationapi.GenerationResponse, error) {
	var resp generationapi.GenerationResponse
	err := c.do(ctx, http.MethodPost, "/modify", req, &resp)
	return &resp, err
}

// GetHistory returns the caller's most recent generations.
func (c *HTTPClient) GetHistory(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	var resp struct {
		History []storage.HistoryEntry `json:"history"`
	}
	path := "/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// GetStats returns the caller's per-model statistics.
func (c *HTTPClient) GetStats(ctx context.Context, days int) ([]storage.ModelStats, error) {
	var resp struct {
		Stats []storage.ModelStats `json:"stats"`
	}
	path := "/stats?days=" + strconv.Itoa(days)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// ListDiagrams returns the caller's saved diagrams.
func (c *HTTPClient) ListDiagrams(ctx context.Context) ([]*storage.Diagram, error) {
	var resp struct {
		Diagrams []*storage.Diagram `json:"diagrams"`
	}
	if err := c.do(ctx, http.MethodGet, "/diagrams", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Diagrams, nil
}

// GetDiagram returns one saved diagram.
func (c *HTTPClient) GetDiagram(ctx context.Context, id string) (*storage.Diagram, error) {
	var d storage.Diagram
	if err := c.do(ctx, http.MethodGet, "/diagrams/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDiagram deletes a saved diagram.
func (c *HTTPClient) DeleteDiagram(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/diagrams/"+url.PathEscape(id), nil, nil)
}

// OpenWorkspace opens a workspace; an empty id opens the unsaved one.
func (c *HTTPClient) OpenWorkspace(ctx context.Context, diagramID string) (*generationapi.WorkspaceResponse, error) {
	var resp generationapi.WorkspaceResponse
	err := c.do(ctx, http.MethodPost, "/workspace", generationapi.OpenWorkspaceRequest{DiagramID: diagramID}, &resp)
	return &resp, err
}

// GetWorkspace returns the workspace state.
func (c *HTTPClient) GetWorkspace(ctx context.Context, id string) (*generationapi.WorkspaceResponse, error) {
	var resp generationapi.WorkspaceResponse
	err := c.do(ctx, http.MethodGet, workspacePath(id, ""), nil, &resp)
	return &resp, err
}

// WorkspaceGenerate generates into a workspace.
func (c *HTTPClient) WorkspaceGenerate(ctx context.Context, id string, req generationapi.GenerateRequest) (*generationapi.WorkspaceResponse, error) {
	var resp generationapi.WorkspaceResponse
	err := c.do(ctx, http.MethodPost, workspacePath(id, "generate"), req, &resp)
	return &resp, err
}

// WorkspaceModify modifies the code of a saved diagram's workspace.
func (c *HTTPClient) WorkspaceModify(ctx context.Context, id string, req generationapi.WorkspaceModifyRequest) (*generationapi.WorkspaceResponse, error) {
	var resp generationapi.WorkspaceResponse
	err := c.do(ctx, http.MethodPost, workspacePath(id, "modify"), req, &resp)
	return &resp, err
}

// WorkspaceSave saves a workspace as a diagram.
func (c *HTTPClient) WorkspaceSave(ctx context.Context, id string, req generationapi.WorkspaceSaveRequest) (*generationapi.WorkspaceResponse, error) {
	var resp generationapi.WorkspaceResponse
	err := c.do(ctx, http.MethodPost, workspacePath(id, "save"), req, &resp)
	return &resp, err
}

// DiscardWorkspace drops a workspace.
func (c *HTTPClient) DiscardWorkspace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, workspacePath(id, ""), nil, nil)
}

func workspacePath(id, action string) string {
	if id == "" {
		id = "new"
	}
	p := "/workspace/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends a JSON request and decodes the reply into out. Error replies are
// returned as *APIError; when out is set their body is decoded into it too.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		httpReq.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if out != nil && len(data) > 0 {
		if jsonErr := json.Unmarshal(data, out); jsonErr != nil && resp.StatusCode < 400 {
			return fmt.Errorf("unmarshal response: %w (body: %s)", jsonErr, string(data))
		}
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = string(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Body: data}
	}
	return nil
}
