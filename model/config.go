package model

import "fmt"

// RegistryConfig is the serialized form of the model registry, as built
// from the backend config and printed by "mermaidgen models --endpoints".
type RegistryConfig struct {
	Endpoints map[string]*EndpointConfig `json:"endpoints" yaml:"endpoints"`
	Defaults  *DefaultsConfig            `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// FromConfig converts a RegistryConfig to a Registry. The default model must
// itself be allow-listed.
func FromConfig(cfg *RegistryConfig) (*Registry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one model endpoint is required")
	}

	defaultModel := ""
	if cfg.Defaults != nil {
		defaultModel = cfg.Defaults.Model
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("default model is required")
	}
	if _, ok := cfg.Endpoints[defaultModel]; !ok {
		return nil, fmt.Errorf("default model %q is not in the allow-list", defaultModel)
	}

	endpoints := make(map[string]*EndpointConfig, len(cfg.Endpoints))
	for name, ep := range cfg.Endpoints {
		if ep == nil {
			ep = &EndpointConfig{}
		}
		endpoints[name] = ep
	}

	return NewRegistry(endpoints, defaultModel), nil
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make(map[string]*EndpointConfig, len(r.endpoints))
	for k, v := range r.endpoints {
		endpoints[k] = v
	}

	return &RegistryConfig{
		Endpoints: endpoints,
		Defaults:  &DefaultsConfig{Model: r.defaults.Model},
	}
}
