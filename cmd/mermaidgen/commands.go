package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/mermaidgen/config"
	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/generation"
	"github.com/c360studio/mermaidgen/workspace"
)

const (
	defaultCLIUser = "cli"
	pingTimeout    = 10 * time.Second
)

// runWithApp sets up and starts an App, runs fn and shuts the App down.
func runWithApp(cmd *cobra.Command, opts *globalOptions, persistent bool, fn func(ctx context.Context, app *App) error) error {
	app, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if err := app.Start(cmd.Context(), persistent); err != nil {
		return err
	}
	return fn(cmd.Context(), app)
}

func generateCmd(opts *globalOptions) *cobra.Command {
	var (
		typeName  string
		modelName string
		userID    string
		saveTitle string
		persist   bool
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt...>",
		Short: "Generate a diagram from a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			t := diagram.ParseType(typeName)

			return runWithApp(cmd, opts, persist || saveTitle != "", func(ctx context.Context, app *App) error {
				if saveTitle == "" {
					out, err := app.orchestrator.Create(ctx, userID, prompt, t, modelName)
					if err != nil {
						return err
					}
					return printOutcome(cmd, out, "")
				}

				if _, err := app.workspaces.Open(ctx, userID, workspace.NewDiagramID); err != nil {
					return err
				}
				_, out, err := app.workspaces.Generate(ctx, userID, workspace.NewDiagramID, prompt, t, modelName)
				if err != nil {
					if out.Kind != "" {
						return printOutcome(cmd, out, "")
					}
					return err
				}
				ws, err := app.workspaces.Save(ctx, userID, workspace.NewDiagramID, saveTitle, "")
				if err != nil {
					return err
				}
				return printOutcome(cmd, out, ws.DiagramID)
			})
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", string(diagram.DefaultType), "Diagram type")
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name (default from config)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultCLIUser, "User the generation is recorded for")
	cmd.Flags().StringVar(&saveTitle, "save", "", "Save the diagram under this title")
	cmd.Flags().BoolVar(&persist, "persist", false, "Record the generation in NATS")

	return cmd
}

func modifyCmd(opts *globalOptions) *cobra.Command {
	var (
		modelName string
		userID    string
	)

	cmd := &cobra.Command{
		Use:   "modify <diagram-id> <modification...>",
		Short: "Apply a modification to a saved diagram",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			diagramID := args[0]
			modification := strings.Join(args[1:], " ")

			return runWithApp(cmd, opts, true, func(ctx context.Context, app *App) error {
				_, out, err := app.workspaces.Modify(ctx, userID, diagramID, modification, modelName)
				if err != nil {
					if out.Kind != "" {
						return printOutcome(cmd, out, diagramID)
					}
					return err
				}
				if _, err := app.workspaces.Save(ctx, userID, diagramID, "", ""); err != nil {
					return err
				}
				return printOutcome(cmd, out, diagramID)
			})
		},
	}

	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name (default from config)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultCLIUser, "Owner of the diagram")

	return cmd
}

// printOutcome writes valid code to stdout and turns failures into errors.
func printOutcome(cmd *cobra.Command, out generation.Outcome, diagramID string) error {
	if !out.Valid {
		if out.Code != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Last attempt:\n%s\n", out.Code)
		}
		return fmt.Errorf("generation failed (%s) after %d attempt(s): %s", out.Kind, out.AttemptCount, out.Error)
	}

	fmt.Fprintln(cmd.OutOrStdout(), out.Code)
	slogArgs := []any{
		"model", out.Model,
		"type", out.DiagramType,
		"attempts", out.AttemptCount,
		"elapsed", out.Elapsed.Round(time.Millisecond),
	}
	if diagramID != "" {
		slogArgs = append(slogArgs, "diagram_id", diagramID)
	}
	slog.Info("Diagram generated", slogArgs...)
	return nil
}

func historyCmd(opts *globalOptions) *cobra.Command {
	var (
		userID string
		limit  int
		stats  bool
		days   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generations or per-model statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, true, func(ctx context.Context, app *App) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				defer w.Flush()

				if stats {
					since := time.Now().AddDate(0, 0, -days)
					rows, err := app.genlog.StatsByModel(ctx, userID, since)
					if err != nil {
						return err
					}
					fmt.Fprintln(w, "MODEL\tGENERATIONS\tSUCCESS RATE\tAVG TIME\tTYPES")
					for _, s := range rows {
						fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2fs\t%s\n",
							s.Model, s.TotalGenerations, s.SuccessRate, s.AvgGenerationTime, strings.Join(s.DiagramTypesUsed, ","))
					}
					return nil
				}

				entries, err := app.genlog.History(ctx, userID, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "WHEN\tTYPE\tMODEL\tVALID\tPROMPT")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
						e.CreatedAt.Local().Format(time.DateTime), e.DiagramType, e.Model, e.Valid, truncate(e.Prompt, 60))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", defaultCLIUser, "User whose history is shown")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of entries")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show per-model statistics instead")
	cmd.Flags().IntVar(&days, "days", 30, "Statistics window in days")

	return cmd
}

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the supported diagram types",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			for _, t := range diagram.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t, t.Marker(), t.Description())
			}
		},
	}
}

func modelsCmd(opts *globalOptions) *cobra.Command {
	var endpoints bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the allowed models",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			if endpoints {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(app.models.ToConfig()); err != nil {
					return fmt.Errorf("encode model registry: %w", err)
				}
				return enc.Close()
			}
			def := app.models.Default()
			for _, name := range app.models.ListModels() {
				marker := " "
				if name == def {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&endpoints, "endpoints", false, "Print the resolved endpoint of every model")
	return cmd
}

func pingCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the completion backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
			defer cancel()

			if err := app.client.Ping(ctx); err != nil {
				return fmt.Errorf("backend %s: %w", app.cfg.Backend.BaseURL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend %s is reachable\n", app.cfg.Backend.BaseURL)
			return nil
		},
	}
}

func configCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				logger := newLogger(cmd.ErrOrStderr(), opts.logLevel)
				cfg, err := loadConfig(opts.configPath, logger)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cfg)
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create the user config file with defaults",
			RunE: func(cmd *cobra.Command, args []string) error {
				logger := newLogger(cmd.ErrOrStderr(), opts.logLevel)
				return config.NewLoader(logger).EnsureUserConfig()
			},
		},
	)

	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
