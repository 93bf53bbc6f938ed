package generationapi

import (
	"fmt"
	"time"
)

// Config holds configuration for the generation-api component.
type Config struct {
	// UserHeader carries the caller identity set by the authenticating proxy.
	UserHeader string `json:"user_header" yaml:"user_header"`

	// MaxRequestBody limits POST body sizes in bytes.
	MaxRequestBody int64 `json:"max_request_body" yaml:"max_request_body"`

	// MaxPromptLength rejects longer prompts and modification texts.
	MaxPromptLength int `json:"max_prompt_length" yaml:"max_prompt_length"`

	// HistoryLimit is the default and MaxHistoryLimit the largest page size
	// of GET /history.
	HistoryLimit    int `json:"history_limit" yaml:"history_limit"`
	MaxHistoryLimit int `json:"max_history_limit" yaml:"max_history_limit"`

	// StatsWindow is the default look-back of GET /stats.
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`

	// PingTimeout bounds the backend check of GET /health.
	PingTimeout time.Duration `json:"ping_timeout" yaml:"ping_timeout"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		UserHeader:      "X-User-ID",
		MaxRequestBody:  1 << 20, // 1 MB
		MaxPromptLength: 4000,
		HistoryLimit:    10,
		MaxHistoryLimit: 100,
		StatsWindow:     30 * 24 * time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.UserHeader == "" {
		return fmt.Errorf("user_header is required")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("max_request_body must be positive")
	}
	if c.MaxPromptLength <= 0 {
		return fmt.Errorf("max_prompt_length must be positive")
	}
	if c.HistoryLimit <= 0 || c.MaxHistoryLimit < c.HistoryLimit {
		return fmt.Errorf("history_limit must be positive and not exceed max_history_limit")
	}
	if c.StatsWindow <= 0 {
		return fmt.Errorf("stats_window must be positive")
	}
	return nil
}
