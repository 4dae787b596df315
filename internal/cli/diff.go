package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/policy"
	"github.com/ppiankov/permguard/internal/policydiff"
)

var diffJSON bool

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Print the diff as JSON")
	diffCmd.SetFlagErrorFunc(usageError)
}

var diffCmd = &cobra.Command{
	Use:   "diff <old-rules> <new-rules>",
	Short: "Compare two rules files and show changes",
	Long: "Loads two rules files and shows what changed: the default decision,\n" +
		"rules added, removed or changed, and rules whose order changed.\n\n" +
		"Exit code 2 if either file fails to load.",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return usageError(cmd, fmt.Errorf("expected 2 rules files, got %d", len(args)))
		}
		return nil
	},
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	opts := loadOptions(newValidator())

	oldCfg := policy.Load(args[0], opts)
	if oldCfg.FailSafe() {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("load old rules %s:\n  %s", args[0], strings.Join(oldCfg.Errors, "\n  "))}
	}
	newCfg := policy.Load(args[1], opts)
	if newCfg.FailSafe() {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("load new rules %s:\n  %s", args[1], strings.Join(newCfg.Errors, "\n  "))}
	}

	result := policydiff.Diff(oldCfg, newCfg)

	out := cmd.OutOrStdout()
	if diffJSON {
		data, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
		return nil
	}
	fmt.Fprint(out, policydiff.FormatText(result))
	return nil
}
