// Package config provides configuration loading and management for mermaidgen.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/c360studio/mermaidgen/generation"
	"github.com/c360studio/mermaidgen/llm"
	"github.com/c360studio/mermaidgen/model"
	"gopkg.in/yaml.v3"
)

// Config represents the complete mermaidgen configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	NATS      NATSConfig      `yaml:"nats"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// BackendConfig configures the OpenAI-compatible completion backend
type BackendConfig struct {
	// BaseURL is the backend root, with or without the /v1 suffix
	BaseURL string `yaml:"base_url"`
	// Provider selects the wire codec (openai, lmstudio)
	Provider string `yaml:"provider"`
	// DefaultModel is used when a request names no model
	DefaultModel string `yaml:"default_model"`
	// Models is the allow-list. Empty allows only DefaultModel.
	Models []string `yaml:"models"`
	// Endpoints overrides provider, URL or token budget per model
	Endpoints map[string]*model.EndpointConfig `yaml:"endpoints,omitempty"`
	// Timeout bounds each backend call
	Timeout time.Duration `yaml:"timeout"`
	// MaxTokens is the completion budget sent with every call
	MaxTokens int `yaml:"max_tokens"`
	// Temperature is sent with every call (0.0-2.0)
	Temperature float64 `yaml:"temperature"`
}

// DispatchConfig configures admission and retries
type DispatchConfig struct {
	// MaxConcurrent is the number of simultaneous backend calls
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxQueue is the number of generations allowed to wait for a slot
	MaxQueue int `yaml:"max_queue"`

	llm.RetryConfig `yaml:",inline"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir holds embedded JetStream data (empty = temporary directory)
	StoreDir string `yaml:"store_dir"`
}

// WorkspaceConfig configures workspace sessions
type WorkspaceConfig struct {
	// TTL expires idle workspaces
	TTL time.Duration `yaml:"ttl"`
	// MaxEntries bounds the in-memory cache
	MaxEntries int `yaml:"max_entries"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	// Addr is the listen address
	Addr string `yaml:"addr"`
	// MaxConnections caps simultaneous client connections (0 = unlimited)
	MaxConnections int `yaml:"max_connections"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:      "http://127.0.0.1:1234",
			Provider:     "lmstudio",
			DefaultModel: "openai/gpt-oss-20b",
			Models: []string{
				"openai/gpt-oss-20b",
				"gemma-3-270m-it",
				"google/gemma-3n-e4b",
				"qwen/qwen3-4b",
				"microsoft/phi-4-mini-reasoning",
			},
			Timeout:     llm.DefaultTimeout,
			MaxTokens:   1000,
			Temperature: 0.1,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent: 2,
			MaxQueue:      50,
			RetryConfig:   llm.DefaultRetryConfig(),
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Workspace: WorkspaceConfig{
			TTL:        30 * time.Minute,
			MaxEntries: 1000,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			MaxConnections: 256,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.DefaultModel == "" {
		return fmt.Errorf("backend.default_model is required")
	}
	if len(c.Backend.Models) > 0 && !slices.Contains(c.Backend.Models, c.Backend.DefaultModel) {
		return fmt.Errorf("backend.default_model %q is not in backend.models", c.Backend.DefaultModel)
	}
	if c.Backend.Temperature < 0 || c.Backend.Temperature > 2 {
		return fmt.Errorf("backend.temperature must be between 0 and 2")
	}
	if c.Backend.MaxTokens < 0 {
		return fmt.Errorf("backend.max_tokens must not be negative")
	}
	if c.Dispatch.MaxConcurrent < 1 {
		return fmt.Errorf("dispatch.max_concurrent must be at least 1")
	}
	if c.Dispatch.MaxQueue < 0 {
		return fmt.Errorf("dispatch.max_queue must not be negative")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative")
	}
	if c.Dispatch.Jitter < 0 || c.Dispatch.Jitter >= 1 {
		return fmt.Errorf("dispatch.jitter must be in [0, 1)")
	}
	if c.Workspace.TTL <= 0 {
		return fmt.Errorf("workspace.ttl must be positive")
	}
	if c.HTTP.MaxConnections < 0 {
		return fmt.Errorf("http.max_connections must not be negative")
	}
	return nil
}

// ModelRegistry builds the model allow-list. Every model is served by the
// configured backend unless backend.endpoints overrides it.
func (c *Config) ModelRegistry() (*model.Registry, error) {
	names := c.Backend.Models
	if len(names) == 0 {
		names = []string{c.Backend.DefaultModel}
	}

	endpoints := make(map[string]*model.EndpointConfig, len(names))
	for _, name := range names {
		ep := &model.EndpointConfig{Provider: c.Backend.Provider, URL: c.Backend.BaseURL, Model: name}
		if override, ok := c.Backend.Endpoints[name]; ok && override != nil {
			if override.Provider != "" {
				ep.Provider = override.Provider
			}
			if override.URL != "" {
				ep.URL = override.URL
			}
			if override.Model != "" {
				ep.Model = override.Model
			}
			ep.MaxTokens = override.MaxTokens
		}
		endpoints[name] = ep
	}

	reg, err := model.FromConfig(&model.RegistryConfig{
		Endpoints: endpoints,
		Defaults:  &model.DefaultsConfig{Model: c.Backend.DefaultModel},
	})
	if err != nil {
		return nil, fmt.Errorf("model registry: %w", err)
	}
	return reg, nil
}

// DispatcherConfig returns the dispatcher settings.
func (c *Config) DispatcherConfig() generation.DispatcherConfig {
	return generation.DispatcherConfig{
		MaxConcurrent: c.Dispatch.MaxConcurrent,
		MaxQueue:      c.Dispatch.MaxQueue,
		CallTimeout:   c.Backend.Timeout,
		MaxTokens:     c.Backend.MaxTokens,
		Temperature:   c.Backend.Temperature,
		Retry:         c.Dispatch.RetryConfig,
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.overlayFile(path); err != nil {
		return nil, err
	}
	return config, nil
}

// overlayFile decodes path onto c. Keys absent from the file keep their
// current values.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Backend
	if other.Backend.BaseURL != "" {
		c.Backend.BaseURL = other.Backend.BaseURL
	}
	if other.Backend.Provider != "" {
		c.Backend.Provider = other.Backend.Provider
	}
	if other.Backend.DefaultModel != "" {
		c.Backend.DefaultModel = other.Backend.DefaultModel
	}
	if len(other.Backend.Models) > 0 {
		c.Backend.Models = other.Backend.Models
	}
	if len(other.Backend.Endpoints) > 0 {
		c.Backend.Endpoints = other.Backend.Endpoints
	}
	if other.Backend.Timeout != 0 {
		c.Backend.Timeout = other.Backend.Timeout
	}
	if other.Backend.MaxTokens != 0 {
		c.Backend.MaxTokens = other.Backend.MaxTokens
	}
	if other.Backend.Temperature != 0 {
		c.Backend.Temperature = other.Backend.Temperature
	}

	// Dispatch
	if other.Dispatch.MaxConcurrent != 0 {
		c.Dispatch.MaxConcurrent = other.Dispatch.MaxConcurrent
	}
	if other.Dispatch.MaxQueue != 0 {
		c.Dispatch.MaxQueue = other.Dispatch.MaxQueue
	}
	if other.Dispatch.MaxRetries != 0 {
		c.Dispatch.MaxRetries = other.Dispatch.MaxRetries
	}
	if other.Dispatch.BackoffBase != 0 {
		c.Dispatch.BackoffBase = other.Dispatch.BackoffBase
	}
	if other.Dispatch.MaxBackoff != 0 {
		c.Dispatch.MaxBackoff = other.Dispatch.MaxBackoff
	}
	if other.Dispatch.TimeoutDelay != 0 {
		c.Dispatch.TimeoutDelay = other.Dispatch.TimeoutDelay
	}
	if other.Dispatch.InvalidDelay != 0 {
		c.Dispatch.InvalidDelay = other.Dispatch.InvalidDelay
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	// Workspace
	if other.Workspace.TTL != 0 {
		c.Workspace.TTL = other.Workspace.TTL
	}
	if other.Workspace.MaxEntries != 0 {
		c.Workspace.MaxEntries = other.Workspace.MaxEntries
	}

	// HTTP
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.MaxConnections != 0 {
		c.HTTP.MaxConnections = other.HTTP.MaxConnections
	}
}
