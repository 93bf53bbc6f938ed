package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360studio/mermaidgen/config"
	"github.com/c360studio/mermaidgen/generation"
	"github.com/c360studio/mermaidgen/llm"
	"github.com/c360studio/mermaidgen/model"
	generationapi "github.com/c360studio/mermaidgen/processor/generation-api"
	"github.com/c360studio/mermaidgen/storage"
	"github.com/c360studio/mermaidgen/workspace"
)

// diagramStore is satisfied by both the KV and the in-memory diagram stores.
type diagramStore interface {
	Save(ctx context.Context, d *storage.Diagram) error
	Find(ctx context.Context, userID, diagramID string) (*storage.Diagram, error)
	List(ctx context.Context, userID string) ([]*storage.Diagram, error)
	Delete(ctx context.Context, userID, diagramID string) error
}

// generationLog is satisfied by both the KV and the in-memory generation logs.
type generationLog interface {
	Record(ctx context.Context, rec storage.GenerationRecord) error
	History(ctx context.Context, userID string, limit int) ([]storage.HistoryEntry, error)
	StatsByModel(ctx context.Context, userID string, since time.Time) ([]storage.ModelStats, error)
	CompareModels(ctx context.Context) ([]storage.ModelComparison, error)
}

// App wires configuration, storage, the backend client and the generation
// pipeline together.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS, nil when running on memory stores
	broker *storage.Broker

	models  *model.Registry
	client  *llm.Client
	metrics *prometheus.Registry

	// Storage
	diagrams diagramStore
	genlog   generationLog
	mirror   workspace.Mirror

	// Pipeline
	dispatcher   *generation.Dispatcher
	orchestrator *generation.Orchestrator
	workspaces   *workspace.Service
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	models, err := cfg.ModelRegistry()
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:     cfg,
		logger:  logger,
		models:  models,
		client:  llm.NewClient(models, llm.WithTimeout(cfg.Backend.Timeout), llm.WithLogger(logger)),
		metrics: reg,
	}, nil
}

// Start initializes storage and the generation pipeline. With persistent
// set, diagrams, the generation log and workspaces live in NATS KV buckets;
// otherwise they are kept in memory for the life of the process.
func (a *App) Start(ctx context.Context, persistent bool) error {
	if persistent {
		if err := a.startStorage(ctx); err != nil {
			return err
		}
	} else {
		a.diagrams = storage.NewMemoryDiagramStore()
		a.genlog = storage.NewMemoryGenerationLog()
	}

	m, err := generation.NewMetrics(a.metrics)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	a.dispatcher = generation.NewDispatcher(a.client, a.cfg.DispatcherConfig(),
		generation.WithDispatcherLogger(a.logger),
		generation.WithDispatcherMetrics(m),
	)
	a.orchestrator = generation.NewOrchestrator(a.dispatcher, a.models, a.diagrams, a.genlog,
		generation.WithLogger(a.logger),
		generation.WithMetrics(m),
	)

	opts := []workspace.Option{workspace.WithLogger(a.logger)}
	if a.mirror != nil {
		opts = append(opts, workspace.WithMirror(a.mirror))
	}
	a.workspaces = workspace.NewService(a.orchestrator, a.diagrams,
		workspace.NewCache(a.cfg.Workspace.MaxEntries, a.cfg.Workspace.TTL), opts...)

	a.logger.Debug("Components initialized", "persistent", persistent)
	return nil
}

func (a *App) startStorage(ctx context.Context) error {
	var (
		broker *storage.Broker
		err    error
	)
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		broker, err = storage.Connect(a.cfg.NATS.URL)
		if err != nil {
			return wrapNATSError(err, a.cfg.NATS.URL)
		}
	} else {
		a.logger.Info("Starting embedded NATS server", "store_dir", a.cfg.NATS.StoreDir)
		broker, err = storage.StartEmbedded(a.cfg.NATS.StoreDir)
		if err != nil {
			return fmt.Errorf("start NATS: %w", err)
		}
	}
	a.broker = broker

	diagrams, err := storage.NewDiagramStore(ctx, broker.JetStream)
	if err != nil {
		return fmt.Errorf("initialize diagram store: %w", err)
	}
	genlog, err := storage.NewGenerationLog(ctx, broker.JetStream)
	if err != nil {
		return fmt.Errorf("initialize generation log: %w", err)
	}
	mirror, err := workspace.NewKVStore(ctx, broker.JetStream, a.cfg.Workspace.TTL)
	if err != nil {
		return fmt.Errorf("initialize workspace store: %w", err)
	}

	a.diagrams = diagrams
	a.genlog = genlog
	a.mirror = mirror
	return nil
}

// Component builds the HTTP API component over the started pipeline.
func (a *App) Component() (*generationapi.Component, error) {
	return generationapi.NewComponent(generationapi.DefaultConfig(), generationapi.Dependencies{
		Generator:  a.orchestrator,
		Models:     a.models,
		History:    a.genlog,
		Diagrams:   a.diagrams,
		Workspaces: a.workspaces,
		Backend:    a.client,
		Logger:     a.logger,
	})
}

// Shutdown releases the pipeline and storage.
func (a *App) Shutdown() {
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if a.broker != nil {
		a.broker.Close()
		a.broker = nil
	}
	a.logger.Debug("Shutdown complete")
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or unset %s to use the embedded server.`, err, url, config.EnvNATSURL)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
