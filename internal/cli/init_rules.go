package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/policy"
)

var (
	initRulesPath  string
	initRulesForce bool
)

func init() {
	rootCmd.AddCommand(initRulesCmd)
	initRulesCmd.Flags().StringVar(&initRulesPath, "path", "", "Where to write the rules file (default ~/.permguard/rules.yaml)")
	initRulesCmd.Flags().BoolVar(&initRulesForce, "force", false, "Overwrite an existing file")
}

var initRulesCmd = &cobra.Command{
	Use:   "init-rules",
	Short: "Generate a commented starter rules file",
	Long:  "Creates a rules.yaml with a deny-by-default starter rule set.\nEdit this file to customize which commands are allowed.",
	RunE:  runInitRules,
}

func runInitRules(cmd *cobra.Command, args []string) error {
	path := pick(initRulesPath, settings.Rules)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil && !initRulesForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(policy.DefaultConfigYAML()), 0600); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}
