// Package llm provides the client for the OpenAI-compatible text-generation
// backend. A Client performs exactly one chat completion per call; retry
// policy belongs to the caller.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/c360studio/mermaidgen/model"
	"github.com/google/uuid"
)

// maxResponseSize limits the backend response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 45 * time.Second

// Client sends chat completion requests to allow-listed model endpoints.
type Client struct {
	registry   *model.Registry
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a completion request.
type Request struct {
	// Model is the allow-listed model name.
	Model string

	// Messages is the chat history to send to the backend.
	Messages []Message

	// Temperature controls randomness. nil uses the backend default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint or backend default.
	MaxTokens int
}

// TokenUsage represents token consumption details for a backend call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion result.
type Response struct {
	// RequestID uniquely identifies this backend call in logs.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the model reported by the backend.
	Model string

	// Usage contains token consumption metrics, when reported.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a new backend client with the given model registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:   registry,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a single completion request.
//
// Errors are classified: *StatusError for non-200 replies, *TimeoutError when
// the per-call timeout fires, ErrMalformedResponse for undecodable bodies and
// TransientError for other transport failures. When ctx itself is done the
// context error is returned unwrapped.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(fmt.Errorf("at least one message is required"))
	}

	ep := c.registry.GetEndpoint(req.Model)
	if ep == nil {
		return nil, NewFatalError(fmt.Errorf("model %q is not configured", req.Model))
	}

	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	maxTokens := req.MaxTokens
	if ep.MaxTokens > 0 {
		maxTokens = ep.MaxTokens
	}

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	requestID := uuid.New().String()
	url := provider.BuildURL(ep.URL)

	c.logger.Debug("Sending LLM request",
		"request_id", requestID,
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransportError(ctx, err)
	}
	defer httpResp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, c.classifyTransportError(ctx, fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := provider.ParseResponse(respBody, ep.Model)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	resp.RequestID = requestID

	return resp, nil
}

// Ping checks that the backend serving the default model is reachable.
func (c *Client) Ping(ctx context.Context) error {
	name := c.registry.Default()
	ep := c.registry.GetEndpoint(name)
	if ep == nil {
		return fmt.Errorf("default model %q is not configured", name)
	}

	provider := GetProvider(ep.Provider)
	if provider == nil {
		return fmt.Errorf("unknown provider: %s", ep.Provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, provider.ModelsURL(ep.URL), nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxResponseSize))

	if httpResp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: httpResp.StatusCode}
	}
	return nil
}

// classifyTransportError separates caller cancellation from per-call timeouts
// and other network failures.
func (c *Client) classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewTimeoutError(err)
	}

	// Network errors are transient
	return NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
}

// classifyHTTPError wraps a non-200 reply. Rate limiting and server errors are
// transient; everything else is fatal. Both carry a *StatusError.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := &StatusError{StatusCode: statusCode, Body: bodyStr}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
