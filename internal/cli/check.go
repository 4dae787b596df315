package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/cmdguard"
	"github.com/ppiankov/permguard/internal/policy"
)

var (
	checkRules   string
	checkWorkDir string
	checkJSON    bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkRules, "rules", "r", "", "Path to rules file (YAML or JSONC)")
	checkCmd.Flags().StringVarP(&checkWorkDir, "workdir", "w", "", "Working directory for path constraints (default: current)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the verdict and trace as JSON")
	checkCmd.SetFlagErrorFunc(usageError)
}

var checkCmd = &cobra.Command{
	Use:   "check <input>",
	Short: "Show how the rules decide an input",
	Long: "Walks the rules in order, printing each pattern examined, then the verdict.\n" +
		"Constraint checks run when the matching rule allows.\n\n" +
		"Exit code 0 if allowed, 1 if denied, 2 on usage errors or an invalid rules file.",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return usageError(cmd, fmt.Errorf("missing input"))
		}
		return nil
	},
	RunE: runCheck,
}

// checkReport is the --json output.
type checkReport struct {
	Input     string              `json:"input"`
	RulesFile string              `json:"rules_file"`
	RulesHash string              `json:"rules_hash,omitempty"`
	Verdict   cmdguard.Verdict    `json:"verdict"`
	Trace     []policy.TraceEntry `json:"trace"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	input := strings.Join(args, " ")
	path := pick(checkRules, settings.Rules)

	validator := newValidator()
	cfg := policy.Load(path, loadOptions(validator))
	if cfg.FailSafe() {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("invalid rules file %s:\n  %s", path, strings.Join(cfg.Errors, "\n  "))}
	}

	guard, err := cmdguard.NewGuard(cmdguard.Config{
		Rules:     policy.NewStaticStore(cfg),
		Validator: validator,
		WorkDir:   pick(checkWorkDir, settings.WorkDir),
		Logger:    logger,
	})
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	verdict, trace := guard.Trace(input, "")

	out := cmd.OutOrStdout()
	if checkJSON {
		data, err := json.MarshalIndent(checkReport{
			Input:     input,
			RulesFile: path,
			RulesHash: cfg.Hash,
			Verdict:   verdict,
			Trace:     trace,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		printTrace(out, input, cfg, verdict, trace)
	}

	if !verdict.Allowed() {
		return &ExitError{Code: ExitDeny}
	}
	return nil
}

func printTrace(w io.Writer, input string, cfg *policy.PermissionsConfig, v cmdguard.Verdict, trace []policy.TraceEntry) {
	fmt.Fprintf(w, "Input: %s\n", input)
	fmt.Fprintf(w, "Rules: %s (%d rules)\n\n", cfg.Source, len(cfg.Rules))

	for _, e := range trace {
		mark := "  -  "
		if e.Matched {
			mark = "MATCH"
		}
		fmt.Fprintf(w, "  [%d] %s %-6s %s", e.Index, mark, e.Decision, e.Pattern)
		if e.Matched && e.Reason != "" {
			fmt.Fprintf(w, "  (%s)", e.Reason)
		}
		fmt.Fprintln(w)
	}
	if v.Match.IsDefault {
		fmt.Fprintf(w, "  no rule matched; default %s\n", v.Match.Decision)
	}

	if c := v.Constraint; c != nil {
		if c.Valid {
			fmt.Fprintln(w, "\nConstraints: passed")
		} else {
			fmt.Fprintf(w, "\nConstraints: %s failed: %s\n", c.Type, c.Violation)
		}
	}

	fmt.Fprintf(w, "\nVerdict: %s", v.Decision.Label())
	if p := v.Match.Pattern(); p != "" {
		fmt.Fprintf(w, " via %q", p)
	}
	if v.Reason != "" {
		fmt.Fprintf(w, ": %s", v.Reason)
	}
	fmt.Fprintln(w)
}
