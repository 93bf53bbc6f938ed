// Package main provides the mermaidgen binary entry point.
// Mermaidgen turns natural-language prompts into validated Mermaid diagrams
// using an OpenAI-compatible completion backend.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	// Register LLM providers via init()
	_ "github.com/c360studio/mermaidgen/llm/providers"

	"github.com/c360studio/mermaidgen/config"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mermaidgen"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Natural-language to Mermaid diagram generator",
		Long: `Mermaidgen turns natural-language descriptions into validated Mermaid
diagram code using an OpenAI-compatible completion backend.

It provides:
- Diagram generation and modification with validation and retries
- Saved diagrams, workspaces and generation history in NATS KV
- An HTTP API with Prometheus metrics`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(opts),
		generateCmd(opts),
		modifyCmd(opts),
		historyCmd(opts),
		typesCmd(),
		modelsCmd(opts),
		pingCmd(opts),
		configCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

// newLogger builds the text logger for the given level name and installs it
// as the default.
func newLogger(w io.Writer, logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// setup loads configuration and creates the App for a command.
func setup(cmd *cobra.Command, opts *globalOptions) (*App, error) {
	logger := newLogger(cmd.ErrOrStderr(), opts.logLevel)

	cfg, err := loadConfig(opts.configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewApp(cfg, logger)
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	loader := config.NewLoader(logger)
	if configPath != "" {
		return loader.LoadFile(configPath)
	}
	return loader.Load()
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║             Mermaidgen v"+Version+"                  ║")
	fmt.Fprintln(w, "║      Natural-Language Diagram Generator       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════╝")
}
