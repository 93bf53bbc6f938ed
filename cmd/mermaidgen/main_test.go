package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/mermaidgen/model"
)

const validFlowchart = "flowchart TD\n    A[Start] --> B[End]"

// fakeBackend serves OpenAI-compatible chat completions with a fixed reply.
type fakeBackend struct {
	*httptest.Server
	reply string
	calls atomic.Int64
}

func newFakeBackend(t *testing.T, reply string) *fakeBackend {
	t.Helper()

	b := &fakeBackend{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"test-model"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		b.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": b.reply}},
			},
		})
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// writeConfig writes a config pointing at baseURL with retries disabled.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mermaidgen.yaml")
	content := fmt.Sprintf(`backend:
  base_url: %s
  provider: openai
  default_model: test-model
  models: [test-model]
dispatch:
  max_retries: 0
nats:
  embedded: true
  store_dir: %s
`, baseURL, t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")

	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s version %s (build: %s)\n", appName, Version, BuildTime), stdout)
}

func TestTypesCommand(t *testing.T) {
	stdout, _, err := execute(t, "types")

	require.NoError(t, err)
	for _, want := range []string{"flowchart", "sequenceDiagram", "erDiagram", "gitGraph"} {
		assert.Contains(t, stdout, want)
	}
}

func TestModelsCommand(t *testing.T) {
	backend := newFakeBackend(t, validFlowchart)

	stdout, _, err := execute(t, "models", "--config", writeConfig(t, backend.URL))

	require.NoError(t, err)
	assert.Equal(t, "* test-model\n", stdout)
}

func TestModelsCommand_Endpoints(t *testing.T) {
	backend := newFakeBackend(t, validFlowchart)

	stdout, _, err := execute(t, "models", "--endpoints", "--config", writeConfig(t, backend.URL))
	require.NoError(t, err)

	var got model.RegistryConfig
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &got))
	require.NotNil(t, got.Defaults)
	assert.Equal(t, "test-model", got.Defaults.Model)
	require.Contains(t, got.Endpoints, "test-model")
	ep := got.Endpoints["test-model"]
	assert.Equal(t, "openai", ep.Provider)
	assert.Equal(t, backend.URL, ep.URL)
	assert.Equal(t, "test-model", ep.Model)
}

func TestGenerateCommand(t *testing.T) {
	backend := newFakeBackend(t, "```mermaid\n"+validFlowchart+"\n```")

	stdout, _, err := execute(t, "generate", "--config", writeConfig(t, backend.URL), "start", "to", "end")

	require.NoError(t, err)
	assert.Equal(t, validFlowchart+"\n", stdout)
	assert.Equal(t, int64(1), backend.calls.Load())
}

func TestGenerateCommand_Invalid(t *testing.T) {
	backend := newFakeBackend(t, "I can only describe it in words.")

	stdout, _, err := execute(t, "generate", "--config", writeConfig(t, backend.URL), "--type", "sequence", "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation_failed")
	assert.Empty(t, stdout)
}

func TestGenerateCommand_UnknownModel(t *testing.T) {
	backend := newFakeBackend(t, validFlowchart)

	_, _, err := execute(t, "generate", "--config", writeConfig(t, backend.URL), "--model", "other", "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid model")
	assert.Zero(t, backend.calls.Load())
}

func TestGenerateCommand_RequiresPrompt(t *testing.T) {
	_, _, err := execute(t, "generate")
	assert.Error(t, err)
}

func TestPingCommand(t *testing.T) {
	backend := newFakeBackend(t, validFlowchart)

	stdout, _, err := execute(t, "ping", "--config", writeConfig(t, backend.URL))

	require.NoError(t, err)
	assert.Contains(t, stdout, "is reachable")
}

func TestPingCommand_Unreachable(t *testing.T) {
	backend := newFakeBackend(t, validFlowchart)
	path := writeConfig(t, backend.URL)
	backend.Close()

	_, _, err := execute(t, "ping", "--config", path)
	assert.Error(t, err)
}

func TestConfigShowCommand(t *testing.T) {
	backend := newFakeBackend(t, validFlowchart)

	stdout, _, err := execute(t, "config", "show", "--config", writeConfig(t, backend.URL))

	require.NoError(t, err)
	assert.Contains(t, stdout, "default_model: test-model")
	assert.Contains(t, stdout, "max_retries: 0")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"INFO", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
		{"bogus", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(&bytes.Buffer{}, tt.level)
			ctx := context.Background()

			assert.Equal(t, tt.wantDebug, logger.Enabled(ctx, -4))
			assert.Equal(t, tt.wantInfo, logger.Enabled(ctx, 0))
			assert.Equal(t, tt.wantWarn, logger.Enabled(ctx, 4))
		})
	}
}

func TestWrapNATSError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantGuidance bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"no servers", errors.New("nats: no servers available for connection"), true},
		{"timeout", errors.New("nats: timeout"), true},
		{"other", errors.New("nats: authorization violation"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapNATSError(tt.err, "nats://localhost:4222")

			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantGuidance, strings.Contains(err.Error(), "NATS is not running"))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
