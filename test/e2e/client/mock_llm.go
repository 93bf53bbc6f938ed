package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MockLLMClient provides operations against the mock LLM server for e2e testing.
// It talks to the mock-llm server directly, not through the mermaidgen API.
type MockLLMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMockLLMClient creates a new client for the mock LLM server.
func NewMockLLMClient(baseURL string) *MockLLMClient {
	return &MockLLMClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// MockStats contains call statistics from the mock LLM server.
type MockStats struct {
	TotalCalls   int64            `json:"total_calls"`
	CallsByModel map[string]int64 `json:"calls_by_model"`
}

// GetStats retrieves call statistics from the mock LLM server.
func (c *MockLLMClient) GetStats(ctx context.Context) (*MockStats, error) {
	var stats MockStats
	if err := c.get(ctx, "/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CallsFor returns the number of completions served for model.
func (c *MockLLMClient) CallsFor(ctx context.Context, model string) (int64, error) {
	stats, err := c.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.CallsByModel[model], nil
}

// MockMessage is one chat message as received by the mock server.
type MockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MockRequest is a completion request captured by the mock server.
type MockRequest struct {
	Model     string        `json:"model"`
	Messages  []MockMessage `json:"messages"`
	CallIndex int           `json:"call_index"`
}

// GetRequests returns the captured requests for model, optionally limited
// to the 1-indexed call number (0 for all calls).
func (c *MockLLMClient) GetRequests(ctx context.Context, model string, call int) ([]MockRequest, error) {
	q := url.Values{"model": {model}}
	if call > 0 {
		q.Set("call", strconv.Itoa(call))
	}
	var resp struct {
		RequestsByModel map[string][]MockRequest `json:"requests_by_model"`
	}
	if err := c.get(ctx, "/requests?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.RequestsByModel[model], nil
}

func (c *MockLLMClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
