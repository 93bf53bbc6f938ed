// Package config provides configuration constants for e2e tests.
package config

import "time"

// Default service URLs.
const (
	DefaultAPIURL     = "http://localhost:8080/api"
	DefaultMetricsURL = "http://localhost:8080/metrics"
	DefaultMockLLMURL = "http://localhost:1234"
)

// Default timeouts.
const (
	DefaultSetupTimeout = 60 * time.Second
	DefaultStageTimeout = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// E2E test identifiers.
const (
	E2EUserID    = "e2e-runner"
	E2EOtherUser = "e2e-other"
)

// Mock models. Each name matches a fixture file in test/e2e/fixtures; the
// server config must allow-list all of them.
const (
	// ModelFlow answers with a bare valid flowchart.
	ModelFlow = "mock-flow"
	// ModelSequence answers with a fenced sequence diagram wrapped in prose.
	ModelSequence = "mock-sequence"
	// ModelRetry refuses once, then answers with a valid flowchart.
	ModelRetry = "mock-retry"
	// ModelBroken always answers with prose.
	ModelBroken = "mock-broken"
	// ModelDown always answers 503.
	ModelDown = "mock-down"
)

// Config holds the e2e test configuration.
type Config struct {
	APIURL       string        `json:"api_url"`
	MetricsURL   string        `json:"metrics_url"`
	MockLLMURL   string        `json:"mock_llm_url"`
	SetupTimeout time.Duration `json:"setup_timeout"`
	StageTimeout time.Duration `json:"stage_timeout"`
}

// DefaultConfig returns the default e2e configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL:       DefaultAPIURL,
		MetricsURL:   DefaultMetricsURL,
		MockLLMURL:   DefaultMockLLMURL,
		SetupTimeout: DefaultSetupTimeout,
		StageTimeout: DefaultStageTimeout,
	}
}
