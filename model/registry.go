// Package model resolves requested model identifiers against the configured
// allow-list and maps them to backend endpoints.
package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrModelNotAllowed is returned when a caller names a model outside the
// allow-list.
var ErrModelNotAllowed = errors.New("model not in allow-list")

// Registry holds the allow-listed models and the default model.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*EndpointConfig
	defaults  *DefaultsConfig
}

// EndpointConfig defines where and how an allow-listed model is served.
type EndpointConfig struct {
	// Provider is the wire protocol used to reach the model (openai, lmstudio).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the backend base URL, without the /v1 suffix.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the identifier sent to the backend. Defaults to the registry key.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MaxTokens overrides the completion token budget for this model.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	// Model is used when the caller does not name one.
	Model string `json:"model" yaml:"model"`
}

// NewRegistry creates a registry from the given endpoints and default model.
func NewRegistry(endpoints map[string]*EndpointConfig, defaultModel string) *Registry {
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	return &Registry{
		endpoints: endpoints,
		defaults:  &DefaultsConfig{Model: defaultModel},
	}
}

// NewDefaultRegistry creates a registry for a local LM Studio backend.
// Used when no configuration is provided.
func NewDefaultRegistry() *Registry {
	const lmStudio = "http://127.0.0.1:1234"
	endpoints := make(map[string]*EndpointConfig)
	for _, name := range []string{
		"openai/gpt-oss-20b",
		"gemma-3-270m-it",
		"google/gemma-3n-e4b",
		"qwen/qwen3-4b",
		"microsoft/phi-4-mini-reasoning",
	} {
		endpoints[name] = &EndpointConfig{Provider: "lmstudio", URL: lmStudio, Model: name}
	}
	return NewRegistry(endpoints, "openai/gpt-oss-20b")
}

// Resolve returns the model to use for a request. An empty request resolves
// to the default model; a non-empty request must be allow-listed.
func (r *Registry) Resolve(requested string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if requested == "" {
		return r.defaults.Model, nil
	}
	if _, ok := r.endpoints[requested]; !ok {
		return "", fmt.Errorf("%w: %s", ErrModelNotAllowed, requested)
	}
	return requested, nil
}

// IsAllowed reports whether name is on the allow-list.
func (r *Registry) IsAllowed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.endpoints[name]
	return ok
}

// Default returns the default model name.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaults.Model
}

// GetEndpoint returns the endpoint configuration for a model name.
// Returns nil if the model is not configured.
func (r *Registry) GetEndpoint(modelName string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[modelName]
	if !ok {
		return nil
	}
	resolved := *ep
	if resolved.Model == "" {
		resolved.Model = modelName
	}
	return &resolved
}

// ListModels returns the allow-listed model names in sorted order.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
