package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/swipematch/internal/harness"
)

// scenarioResult is the JSON payload for one scenario file.
type scenarioResult struct {
	File   string   `json:"file"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"traceEvents"`
	Errors []string `json:"errors,omitempty"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run conformance scenarios against an in-memory pipeline",
	}
	cmd.AddCommand(newScenarioRunCommand(rootOpts))
	return cmd
}

func newScenarioRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run scenario files and report assertion failures",
		Long: `Run scenario files and report assertion failures.

Each scenario runs against a fresh in-memory store with a deterministic
clock, so results do not depend on the configured store.`,
		Example: `  swipematch scenario run testdata/scenarios/*.yaml`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			var results []scenarioResult
			var lines []string
			failed := 0
			for _, path := range args {
				res, err := runScenarioFile(opts, cmd, path)
				if err != nil {
					_ = out.Error(ErrCodeScenario, err.Error(), nil)
					return WrapExitError(ExitCommandError, "failed to run scenario", err)
				}
				if !res.Pass {
					failed++
				}
				results = append(results, res)
				lines = append(lines, formatScenario(res))
			}

			if err := out.Success(results, strings.Join(lines, "\n")); err != nil {
				return err
			}
			if failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(args)))
			}
			return nil
		},
	}
}

func runScenarioFile(opts *RootOptions, cmd *cobra.Command, path string) (scenarioResult, error) {
	sc, err := harness.LoadScenario(path)
	if err != nil {
		return scenarioResult{}, err
	}
	out := opts.formatter(cmd)
	out.VerboseLog("running %s (%s)", sc.Name, path)

	result, err := harness.Run(sc)
	if err != nil {
		return scenarioResult{}, fmt.Errorf("%s: %w", path, err)
	}
	return scenarioResult{
		File:   path,
		Name:   sc.Name,
		Pass:   result.Pass,
		Steps:  len(result.Trace),
		Errors: result.Errors,
	}, nil
}

func formatScenario(r scenarioResult) string {
	if r.Pass {
		return fmt.Sprintf("PASS %s (%s)", r.Name, r.File)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FAIL %s (%s)", r.Name, r.File)
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", e)
	}
	return b.String()
}
