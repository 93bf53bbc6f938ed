package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/mermaidgen/llm"
	_ "github.com/c360studio/mermaidgen/llm/providers" // Register providers
	"github.com/c360studio/mermaidgen/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(url string) *model.Registry {
	return model.NewRegistry(map[string]*model.EndpointConfig{
		"test-model": {
			Provider: "lmstudio",
			URL:      url,
			Model:    "test-model",
		},
	}, "test-model")
}

func chatReply(content string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-123",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func userRequest() llm.Request {
	temp := 0.1
	return llm.Request{
		Model:       "test-model",
		Messages:    []llm.Message{{Role: "user", Content: "Hello"}},
		Temperature: &temp,
		MaxTokens:   1000,
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.EqualValues(t, 1000, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply("flowchart TD\n  A --> B"))
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL))

	resp, err := client.Complete(context.Background(), userRequest())

	require.NoError(t, err)
	assert.Equal(t, "flowchart TD\n  A --> B", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_Complete_SingleAttempt(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Service temporarily unavailable"))
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL))

	_, err := client.Complete(context.Background(), userRequest())

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	code, ok := llm.StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("nope"))
			}))
			defer server.Close()

			client := llm.NewClient(testRegistry(server.URL))
			_, err := client.Complete(context.Background(), userRequest())

			require.Error(t, err)
			assert.Equal(t, tt.transient, llm.IsTransient(err))
			assert.Equal(t, !tt.transient, llm.IsFatal(err))

			var status *llm.StatusError
			require.True(t, errors.As(err, &status))
			assert.Equal(t, tt.status, status.StatusCode)
			assert.Equal(t, "nope", status.Body)
		})
	}
}

func TestClient_Complete_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := llm.NewClient(testRegistry(server.URL))
	_, err := client.Complete(context.Background(), userRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
	assert.True(t, llm.IsTransient(err))
}

func TestClient_Complete_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := llm.NewClient(testRegistry(server.URL), llm.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.Complete(context.Background(), userRequest())

	require.Error(t, err)
	assert.True(t, llm.IsTimeout(err), "expected timeout, got %v", err)
	assert.True(t, llm.IsTransient(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_Complete_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := llm.NewClient(testRegistry(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, userRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, llm.IsTimeout(err))
}

func TestClient_Complete_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := llm.NewClient(testRegistry(url))
	_, err := client.Complete(context.Background(), userRequest())

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	_, ok := llm.StatusCode(err)
	assert.False(t, ok)
}

func TestClient_Complete_Validation(t *testing.T) {
	client := llm.NewClient(testRegistry("http://127.0.0.1:1"))

	t.Run("no messages", func(t *testing.T) {
		_, err := client.Complete(context.Background(), llm.Request{Model: "test-model"})
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
	})

	t.Run("unknown model", func(t *testing.T) {
		req := userRequest()
		req.Model = "other"
		_, err := client.Complete(context.Background(), req)
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		reg := model.NewRegistry(map[string]*model.EndpointConfig{
			"test-model": {Provider: "carrier-pigeon"},
		}, "test-model")
		c := llm.NewClient(reg)
		_, err := c.Complete(context.Background(), userRequest())
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
		assert.Contains(t, err.Error(), "unknown provider")
	})
}

func TestClient_Complete_EndpointMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 256, body["max_tokens"])
		json.NewEncoder(w).Encode(chatReply("pie title X"))
	}))
	defer server.Close()

	reg := model.NewRegistry(map[string]*model.EndpointConfig{
		"test-model": {Provider: "lmstudio", URL: server.URL, MaxTokens: 256},
	}, "test-model")

	_, err := llm.NewClient(reg).Complete(context.Background(), userRequest())
	require.NoError(t, err)
}

func TestClient_Ping(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "/v1/models", r.URL.Path)
			w.Write([]byte(`{"data":[{"id":"test-model"}]}`))
		}))
		defer server.Close()

		assert.NoError(t, llm.NewClient(testRegistry(server.URL)).Ping(context.Background()))
	})

	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		err := llm.NewClient(testRegistry(server.URL)).Ping(context.Background())
		require.Error(t, err)
		code, ok := llm.StatusCode(err)
		assert.True(t, ok)
		assert.Equal(t, http.StatusInternalServerError, code)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		assert.Error(t, llm.NewClient(testRegistry(url)).Ping(context.Background()))
	})
}
