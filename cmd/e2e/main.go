// Package main provides the e2e test runner CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/c360studio/mermaidgen/test/e2e/config"
	"github.com/c360studio/mermaidgen/test/e2e/scenarios"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		apiURL        string
		mockLLMURL    string
		outputJSON    bool
		timeout       time.Duration
		globalTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "e2e [scenario]",
		Short: "Run mermaidgen e2e tests",
		Long: `Run end-to-end tests against a running mermaidgen API backed by mock-llm.

Available scenarios:
  generate   - Tests one-shot generation, sanitizing and history
  failures   - Tests retries and failure status mapping
  workspace  - Tests the workspace open, save and modify cycle
  all        - Run all scenarios (default)

Examples:
  e2e                                    # Run all scenarios
  e2e workspace                          # Run specific scenario
  e2e --json                             # Output results as JSON
  e2e --api http://host:8080/api         # Custom API URL
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioName := "all"
			if len(args) > 0 {
				scenarioName = args[0]
			}

			cfg := config.DefaultConfig()
			cfg.APIURL = strings.TrimRight(apiURL, "/")
			cfg.MockLLMURL = strings.TrimRight(mockLLMURL, "/")
			cfg.SetupTimeout = timeout * 2
			cfg.StageTimeout = timeout

			rep := &reporter{out: cmd.OutOrStdout(), quiet: outputJSON}
			return run(scenarioName, cfg, rep, globalTimeout)
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", config.DefaultAPIURL, "mermaidgen API base URL")
	cmd.Flags().StringVar(&mockLLMURL, "mock-llm", config.DefaultMockLLMURL, "mock-llm base URL")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultStageTimeout, "Per-stage timeout")
	cmd.Flags().DurationVar(&globalTimeout, "global-timeout", 10*time.Minute, "Global timeout for all scenarios")

	cmd.AddCommand(listCmd())

	return cmd
}

func scenarioList(cfg *config.Config) []scenarios.Scenario {
	return []scenarios.Scenario{
		scenarios.NewGenerateScenario(cfg),
		scenarios.NewFailuresScenario(cfg),
		scenarios.NewWorkspaceScenario(cfg),
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available scenarios:")
			fmt.Fprintln(out)
			for _, s := range scenarioList(config.DefaultConfig()) {
				fmt.Fprintf(out, "  %-11s %s\n", s.Name(), s.Description())
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Use 'e2e all' to run all scenarios.")
		},
	}
}

func run(scenarioName string, cfg *config.Config, rep *reporter, globalTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), globalTimeout)
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	all := scenarioList(cfg)
	scenarioMap := make(map[string]scenarios.Scenario, len(all))
	for _, s := range all {
		scenarioMap[s.Name()] = s
	}

	var toRun []scenarios.Scenario
	if scenarioName == "all" {
		toRun = all
	} else {
		s, ok := scenarioMap[scenarioName]
		if !ok {
			return fmt.Errorf("unknown scenario: %s", scenarioName)
		}
		toRun = []scenarios.Scenario{s}
	}

	results := make([]*scenarios.Result, 0, len(toRun))
	allPassed := true

	for _, scenario := range toRun {
		if ctx.Err() != nil {
			rep.printf("\nTest run interrupted!\n")
			allPassed = false
			break
		}

		result := runScenario(ctx, scenario, rep)
		results = append(results, result)
		if !result.Success {
			allPassed = false
		}
	}

	if rep.quiet {
		if err := rep.writeJSON(results); err != nil {
			return err
		}
	} else {
		rep.summary(results)
	}

	if !allPassed {
		return fmt.Errorf("some scenarios failed")
	}
	return nil
}

// runScenario drives one scenario through setup, execute and teardown. A
// failed setup skips execution but still tears down.
func runScenario(ctx context.Context, scenario scenarios.Scenario, rep *reporter) *scenarios.Result {
	rep.banner(scenario)

	rep.printf("Setup... ")
	var result *scenarios.Result
	if err := scenario.Setup(ctx); err != nil {
		result = failedResult(scenario.Name(), "setup failed: %v", err)
		rep.printf("FAILED: %v\n", err)
	} else {
		rep.printf("OK\nExecute... ")
		res, err := scenario.Execute(ctx)
		switch {
		case err != nil:
			result = failedResult(scenario.Name(), "execution error: %v", err)
			rep.printf("ERROR: %v\n", err)
		case res.Success:
			result = res
			rep.printf("PASSED\n")
		default:
			result = res
			rep.printf("FAILED: %s\n", res.Error)
		}
	}

	rep.printf("Teardown... ")
	if err := scenario.Teardown(ctx); err != nil {
		result.AddWarning(fmt.Sprintf("teardown failed: %v", err))
		rep.printf("WARNING: %v\n", err)
	} else {
		rep.printf("OK\n")
	}

	rep.stages(result)
	return result
}

func failedResult(name, format string, args ...any) *scenarios.Result {
	result := scenarios.NewResult(name)
	result.Error = fmt.Sprintf(format, args...)
	result.AddError(result.Error)
	result.Complete()
	return result
}

const rule = "═══════════════════════════════════════════════════════════════"

// reporter prints progress for humans. In quiet mode only the final JSON
// document is written.
type reporter struct {
	out   io.Writer
	quiet bool
}

func (r *reporter) printf(format string, args ...any) {
	if !r.quiet {
		fmt.Fprintf(r.out, format, args...)
	}
}

func (r *reporter) banner(s scenarios.Scenario) {
	r.printf("\n%s\nRunning: %s\nDescription: %s\n%s\n\n", rule, s.Name(), s.Description(), rule)
}

func (r *reporter) stages(result *scenarios.Result) {
	if r.quiet || len(result.Stages) == 0 {
		return
	}
	r.printf("\nStages:\n")
	for _, st := range result.Stages {
		mark := "✓"
		if !st.Success {
			mark = "✗"
		}
		r.printf("  %s %s (%dms)\n", mark, st.Name, st.Duration.Milliseconds())
		if st.Error != "" {
			r.printf("      Error: %s\n", st.Error)
		}
	}
}

type runSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

func summarize(results []*scenarios.Result) runSummary {
	s := runSummary{Total: len(results)}
	for _, res := range results {
		if res.Success {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

func (r *reporter) writeJSON(results []*scenarios.Result) error {
	doc := struct {
		Timestamp time.Time           `json:"timestamp"`
		Results   []*scenarios.Result `json:"results"`
		Summary   runSummary          `json:"summary"`
	}{
		Timestamp: time.Now(),
		Results:   results,
		Summary:   summarize(results),
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

func (r *reporter) summary(results []*scenarios.Result) {
	r.printf("\n%s\n%36s\n%s\n", rule, "SUMMARY", rule)

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	for _, res := range results {
		status := "✓ PASSED"
		if !res.Success {
			status = "✗ FAILED"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%dms\t%s\n", status, res.ScenarioName, res.Duration.Milliseconds(), truncate(res.Error, 80))
	}
	tw.Flush()

	s := summarize(results)
	r.printf("%s\n  Total: %d | Passed: %d | Failed: %d\n%s\n", strings.Repeat("─", 65), s.Total, s.Passed, s.Failed, rule)
	if s.Failed > 0 {
		r.printf("\nSome tests failed. Run with --json for detailed output.\n")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
