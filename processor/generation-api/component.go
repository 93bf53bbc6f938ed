// Package generationapi provides the HTTP surface of mermaidgen: diagram
// generation and modification, generation history and per-model stats,
// saved diagrams and workspace sessions. Callers are identified by a header
// set by the authenticating proxy in front of the service.
package generationapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/generation"
	"github.com/c360studio/mermaidgen/model"
	"github.com/c360studio/mermaidgen/storage"
	"github.com/c360studio/mermaidgen/workspace"
)

// Generator creates and modifies diagrams. *generation.Orchestrator implements it.
type Generator interface {
	Create(ctx context.Context, userID, prompt string, t diagram.Type, modelName string) (generation.Outcome, error)
	Modify(ctx context.Context, userID, diagramID, modification, modelName string) (generation.Outcome, error)
}

// History reads the generation log.
type History interface {
	History(ctx context.Context, userID string, limit int) ([]storage.HistoryEntry, error)
	StatsByModel(ctx context.Context, userID string, since time.Time) ([]storage.ModelStats, error)
	CompareModels(ctx context.Context) ([]storage.ModelComparison, error)
}

// Diagrams lists, reads and deletes saved diagrams.
type Diagrams interface {
	List(ctx context.Context, userID string) ([]*storage.Diagram, error)
	Find(ctx context.Context, userID, diagramID string) (*storage.Diagram, error)
	Delete(ctx context.Context, userID, diagramID string) error
}

// Pinger checks backend reachability. *llm.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the component serves. Generator and Models
// are required; endpoints whose dependency is nil answer 501.
type Dependencies struct {
	Generator  Generator
	Models     *model.Registry
	History    History
	Diagrams   Diagrams
	Workspaces *workspace.Service
	Backend    Pinger
	Logger     *slog.Logger
}

// Component implements the generation-api component.
type Component struct {
	name   string
	config Config
	deps   Dependencies
	logger *slog.Logger

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent constructs a generation-api Component.
func NewComponent(config Config, deps Dependencies) (*Component, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Models == nil {
		return nil, fmt.Errorf("model registry is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Component{
		name:   "generation-api",
		config: config,
		deps:   deps,
		logger: logger,
	}, nil
}

// Start marks the component as serving.
func (c *Component) Start(_ context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)
	c.logger.Info("generation-api started")
	return nil
}

// Stop marks the component as stopped. In-flight requests are left to the
// HTTP server shutdown.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.state.Store(stateStopped)
	c.logger.Info("generation-api stopped")
	return nil
}

// HealthStatus is the component health snapshot.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Status  string        `json:"status"`
	Uptime  time.Duration `json:"uptime_ns"`
}

// Health returns the current health status.
func (c *Component) Health() HealthStatus {
	state := c.state.Load()

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	var uptime time.Duration
	if state == stateRunning {
		uptime = time.Since(startTime)
	}

	return HealthStatus{
		Healthy: state == stateRunning,
		Status:  status,
		Uptime:  uptime,
	}
}
