package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/mermaidgen/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend.DefaultModel != "openai/gpt-oss-20b" {
		t.Errorf("expected default model openai/gpt-oss-20b, got %s", cfg.Backend.DefaultModel)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:1234" {
		t.Errorf("expected default base URL http://127.0.0.1:1234, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Temperature != 0.1 {
		t.Errorf("expected default temperature 0.1, got %f", cfg.Backend.Temperature)
	}
	if cfg.Dispatch.MaxConcurrent != 2 || cfg.Dispatch.MaxQueue != 50 || cfg.Dispatch.MaxRetries != 2 {
		t.Errorf("unexpected dispatch defaults: %+v", cfg.Dispatch)
	}
	if cfg.Workspace.TTL != 30*time.Minute {
		t.Errorf("expected workspace TTL 30m, got %v", cfg.Workspace.TTL)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing base URL",
			modify:  func(c *Config) { c.Backend.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "missing default model",
			modify:  func(c *Config) { c.Backend.DefaultModel = "" },
			wantErr: true,
		},
		{
			name:    "default model outside allow-list",
			modify:  func(c *Config) { c.Backend.DefaultModel = "unlisted" },
			wantErr: true,
		},
		{
			name:    "empty allow-list accepts any default",
			modify:  func(c *Config) { c.Backend.Models = nil; c.Backend.DefaultModel = "solo" },
			wantErr: false,
		},
		{
			name:    "temperature too low",
			modify:  func(c *Config) { c.Backend.Temperature = -0.1 },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.Backend.Temperature = 2.1 },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Dispatch.MaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:    "negative queue",
			modify:  func(c *Config) { c.Dispatch.MaxQueue = -1 },
			wantErr: true,
		},
		{
			name:    "zero retries allowed",
			modify:  func(c *Config) { c.Dispatch.MaxRetries = 0 },
			wantErr: false,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Dispatch.MaxRetries = -1 },
			wantErr: true,
		},
		{
			name:    "jitter out of range",
			modify:  func(c *Config) { c.Dispatch.Jitter = 1 },
			wantErr: true,
		},
		{
			name:    "zero workspace TTL",
			modify:  func(c *Config) { c.Workspace.TTL = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
backend:
  base_url: "http://test:1234"
  default_model: "test-model"
  models: [test-model, other-model]
  endpoints:
    other-model:
      provider: openai
      url: "https://api.example.com"
      max_tokens: 2000
  timeout: 10s
  temperature: 0.5
dispatch:
  max_concurrent: 4
  max_retries: 0
  backoff_base: 250ms
nats:
  url: "nats://test:4222"
workspace:
  ttl: 1h
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Backend.DefaultModel != "test-model" {
		t.Errorf("expected model test-model, got %s", cfg.Backend.DefaultModel)
	}
	if cfg.Backend.BaseURL != "http://test:1234" {
		t.Errorf("expected base URL http://test:1234, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.Backend.Temperature)
	}
	if cfg.Backend.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Backend.MaxTokens != 1000 {
		t.Errorf("expected default max tokens to survive, got %d", cfg.Backend.MaxTokens)
	}
	if cfg.Dispatch.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Dispatch.MaxConcurrent)
	}
	if cfg.Dispatch.MaxRetries != 0 {
		t.Errorf("expected explicit max_retries 0, got %d", cfg.Dispatch.MaxRetries)
	}
	if cfg.Dispatch.BackoffBase != 250*time.Millisecond {
		t.Errorf("expected backoff_base 250ms, got %v", cfg.Dispatch.BackoffBase)
	}
	if cfg.Dispatch.TimeoutDelay != 5*time.Second {
		t.Errorf("expected default timeout_delay, got %v", cfg.Dispatch.TimeoutDelay)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Workspace.TTL != time.Hour {
		t.Errorf("expected workspace TTL 1h, got %v", cfg.Workspace.TTL)
	}
	if len(cfg.Backend.Models) != 2 {
		t.Errorf("expected 2 models in allow-list, got %d", len(cfg.Backend.Models))
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("backend: [not, a, map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestModelRegistry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Models = []string{"a", "b"}
	cfg.Backend.DefaultModel = "a"
	cfg.Backend.Endpoints = map[string]*model.EndpointConfig{
		"b": {Provider: "openai", URL: "https://api.example.com", Model: "gpt-4o-mini", MaxTokens: 2000},
	}

	reg, err := cfg.ModelRegistry()
	if err != nil {
		t.Fatalf("ModelRegistry() error = %v", err)
	}

	if got := reg.Default(); got != "a" {
		t.Errorf("expected default a, got %s", got)
	}
	if !reg.IsAllowed("b") || reg.IsAllowed("c") {
		t.Error("allow-list mismatch")
	}

	a := reg.GetEndpoint("a")
	if a == nil || a.Provider != "lmstudio" || a.URL != cfg.Backend.BaseURL || a.Model != "a" {
		t.Errorf("unexpected endpoint for a: %+v", a)
	}
	b := reg.GetEndpoint("b")
	if b == nil || b.Provider != "openai" || b.URL != "https://api.example.com" || b.Model != "gpt-4o-mini" || b.MaxTokens != 2000 {
		t.Errorf("unexpected endpoint for b: %+v", b)
	}
}

func TestModelRegistry_DefaultNotAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.DefaultModel = "unlisted"

	if _, err := cfg.ModelRegistry(); err == nil {
		t.Error("expected error for unlisted default model")
	}
}

func TestDispatcherConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dispatch.MaxRetries = 5
	cfg.Backend.Timeout = 7 * time.Second

	dc := cfg.DispatcherConfig()
	if dc.MaxConcurrent != 2 || dc.MaxQueue != 50 {
		t.Errorf("unexpected limits: %+v", dc)
	}
	if dc.CallTimeout != 7*time.Second {
		t.Errorf("expected call timeout 7s, got %v", dc.CallTimeout)
	}
	if dc.Retry.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", dc.Retry.MaxRetries)
	}
	if dc.MaxTokens != 1000 || dc.Temperature != 0.1 {
		t.Errorf("unexpected request shaping: %+v", dc)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Backend: BackendConfig{
			DefaultModel: "override-model",
		},
		NATS: NATSConfig{
			URL: "nats://remote:4222",
		},
	}

	base.Merge(override)

	if base.Backend.DefaultModel != "override-model" {
		t.Errorf("expected model override-model, got %s", base.Backend.DefaultModel)
	}
	// Base URL should remain from base since override didn't set it
	if base.Backend.BaseURL != "http://127.0.0.1:1234" {
		t.Errorf("expected base URL to remain default, got %s", base.Backend.BaseURL)
	}
	if base.NATS.Embedded {
		t.Error("expected external NATS after URL override")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Backend.DefaultModel = "qwen/qwen3-4b"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Backend.DefaultModel != "qwen/qwen3-4b" {
		t.Errorf("expected model qwen/qwen3-4b, got %s", loaded.Backend.DefaultModel)
	}
	if loaded.Dispatch.MaxRetries != cfg.Dispatch.MaxRetries {
		t.Errorf("inline retry settings lost: %d", loaded.Dispatch.MaxRetries)
	}
}

func newTestLoader(t *testing.T, env map[string]string) (*Loader, string, string) {
	t.Helper()
	home := t.TempDir()
	work := filepath.Join(t.TempDir(), "project", "sub")
	if err := os.MkdirAll(work, 0755); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.getenv = func(key string) string { return env[key] }
	l.homeDir = func() (string, error) { return home, nil }
	l.workDir = func() (string, error) { return work, nil }
	return l, home, work
}

func TestLoader_Layers(t *testing.T) {
	l, home, work := newTestLoader(t, nil)

	userCfg := filepath.Join(home, UserConfigDir, UserConfigFile)
	if err := os.MkdirAll(filepath.Dir(userCfg), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(userCfg, []byte("backend:\n  max_tokens: 500\n  temperature: 0.3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// Project config lives in a parent of the working directory.
	projectCfg := filepath.Join(filepath.Dir(work), ProjectConfigFile)
	if err := os.WriteFile(projectCfg, []byte("backend:\n  temperature: 0.7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.MaxTokens != 500 {
		t.Errorf("expected user max_tokens 500, got %d", cfg.Backend.MaxTokens)
	}
	if cfg.Backend.Temperature != 0.7 {
		t.Errorf("expected project temperature 0.7, got %f", cfg.Backend.Temperature)
	}
}

func TestLoader_Env(t *testing.T) {
	l, _, _ := newTestLoader(t, map[string]string{
		EnvBackendURL:   "http://gpu-box:1234",
		EnvDefaultModel: "custom/model",
		EnvNATSURL:      "nats://broker:4222",
	})

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://gpu-box:1234" {
		t.Errorf("expected env base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.DefaultModel != "custom/model" {
		t.Errorf("expected env default model, got %s", cfg.Backend.DefaultModel)
	}
	reg, err := cfg.ModelRegistry()
	if err != nil {
		t.Fatalf("ModelRegistry() error = %v", err)
	}
	if !reg.IsAllowed("custom/model") {
		t.Error("env default model should be allow-listed")
	}
	if cfg.NATS.URL != "nats://broker:4222" || cfg.NATS.Embedded {
		t.Errorf("unexpected NATS config: %+v", cfg.NATS)
	}
}

func TestLoader_InvalidResult(t *testing.T) {
	l, _, work := newTestLoader(t, nil)
	if err := os.WriteFile(filepath.Join(work, ProjectConfigFile), []byte("dispatch:\n  max_concurrent: -3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Load(); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoader_EnsureUserConfig(t *testing.T) {
	l, home, _ := newTestLoader(t, nil)

	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	path := filepath.Join(home, UserConfigDir, UserConfigFile)
	if _, err := LoadFromFile(path); err != nil {
		t.Errorf("created config unreadable: %v", err)
	}
	if err := l.EnsureUserConfig(); err != nil {
		t.Errorf("second EnsureUserConfig() error = %v", err)
	}
}
