package model

import "testing"

func TestFromConfig(t *testing.T) {
	t.Run("endpoints and default", func(t *testing.T) {
		r, err := FromConfig(&RegistryConfig{
			Endpoints: map[string]*EndpointConfig{
				"model-a": {Provider: "openai", URL: "http://localhost:1234"},
				"model-b": {Provider: "openai", Model: "vendor/model-b"},
			},
			Defaults: &DefaultsConfig{Model: "model-a"},
		})
		if err != nil {
			t.Fatalf("FromConfig: %v", err)
		}
		if got := r.Default(); got != "model-a" {
			t.Errorf("expected model-a, got %q", got)
		}
		if ep := r.GetEndpoint("model-b"); ep == nil || ep.Model != "vendor/model-b" {
			t.Errorf("unexpected endpoint for model-b: %+v", ep)
		}
	})

	t.Run("nil endpoint is allow-listed", func(t *testing.T) {
		r, err := FromConfig(&RegistryConfig{
			Endpoints: map[string]*EndpointConfig{"qwen/qwen3-4b": nil},
			Defaults:  &DefaultsConfig{Model: "qwen/qwen3-4b"},
		})
		if err != nil {
			t.Fatalf("FromConfig: %v", err)
		}
		if !r.IsAllowed("qwen/qwen3-4b") {
			t.Error("expected qwen/qwen3-4b to be allow-listed")
		}
		if ep := r.GetEndpoint("qwen/qwen3-4b"); ep == nil || ep.Model != "qwen/qwen3-4b" {
			t.Errorf("expected model name to default to the key, got %+v", ep)
		}
	})

	errCases := []struct {
		name string
		cfg  *RegistryConfig
	}{
		{"default outside allow-list", &RegistryConfig{
			Endpoints: map[string]*EndpointConfig{"model-a": {Provider: "openai"}},
			Defaults:  &DefaultsConfig{Model: "model-z"},
		}},
		{"no default", &RegistryConfig{
			Endpoints: map[string]*EndpointConfig{"model-a": {Provider: "openai"}},
		}},
		{"no endpoints", &RegistryConfig{Defaults: &DefaultsConfig{Model: "x"}}},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromConfig(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToConfigRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := r.ToConfig()

	restored, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if restored.Default() != r.Default() {
		t.Errorf("default mismatch: %q vs %q", restored.Default(), r.Default())
	}
	if len(restored.ListModels()) != len(r.ListModels()) {
		t.Errorf("model count mismatch")
	}
}
