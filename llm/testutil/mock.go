// Package testutil provides test utilities for the llm package.
// It includes a scripted backend for exercising callers of llm.Client.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/mermaidgen/llm"
)

// Reply is one scripted backend result.
type Reply struct {
	Content string
	Err     error
}

// MockLLMClient is a thread-safe scripted backend for testing.
// It returns Replies in order, repeating the last one once exhausted, and
// records the requests it receives and the peak number of concurrent calls.
//
// Usage:
//
//	// Invalid reply, then a valid one
//	mock := &MockLLMClient{
//	    Replies: []Reply{
//	        {Content: "sorry, I cannot"},
//	        {Content: "flowchart TD\n  A --> B"},
//	    },
//	}
//
//	// Transport failure on every call
//	mock := &MockLLMClient{
//	    Replies: []Reply{{Err: llm.NewTransientError(errors.New("connection refused"))}},
//	}
type MockLLMClient struct {
	// Replies are returned in sequence.
	Replies []Reply

	// Delay holds each call open before replying. Honors ctx.
	Delay time.Duration

	mu        sync.Mutex
	requests  []llm.Request
	callCount int
	inFlight  int
	maxFlight int
}

// Complete returns the next scripted reply.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	idx := m.callCount
	m.callCount++
	m.requests = append(m.requests, req)
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if len(m.Replies) == 0 {
		return &llm.Response{Content: "", Model: req.Model}, nil
	}
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}

	reply := m.Replies[idx]
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.Response{Content: reply.Content, Model: req.Model}, nil
}

// GetCallCount returns the number of times Complete() was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MaxInFlight returns the peak number of concurrent Complete() calls.
func (m *MockLLMClient) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxFlight
}

// Requests returns a copy of the requests received so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset resets the mock's recorded state.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.requests = nil
	m.inFlight = 0
	m.maxFlight = 0
}
