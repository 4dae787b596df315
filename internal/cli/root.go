package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/audit"
	"github.com/ppiankov/permguard/internal/config"
	"github.com/ppiankov/permguard/internal/constraint"
	"github.com/ppiankov/permguard/internal/policy"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitDeny  = 1
	ExitUsage = 2
)

// ExitError carries a process exit code. A nil Err exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

var (
	configPath string
	logLevel   string

	settings *config.Config
	logger   = slog.New(slog.DiscardHandler)
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.permguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

var rootCmd = &cobra.Command{
	Use:           "permguard",
	Short:         "Permission rules and audit trail for agent tool calls",
	Long:          "Decides whether a requested action is allowed using ordered glob rules and\nstructural constraints, and records every decision and tool call for inspection.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}
		if logLevel != "" {
			if _, err := config.ParseLevel(logLevel); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			cfg.LogLevel = logLevel
		}
		settings = cfg
		logger = cfg.NewLogger(os.Stderr)
		return nil
	},
}

// Execute runs the root command and returns the process exit code.
// ExitDeny is reserved for denials; any other failure exits ExitUsage.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitUsage
}

// usageError marks cobra argument and flag failures as exit 2.
func usageError(cmd *cobra.Command, err error) error {
	return &ExitError{Code: ExitUsage, Err: fmt.Errorf("%w\n\n%s", err, cmd.UsageString())}
}

func newValidator() *constraint.Validator {
	return constraint.NewValidator(constraint.ShellKinds())
}

func loadOptions(v *constraint.Validator) policy.LoadOptions {
	return policy.LoadOptions{CheckConstraint: v.CheckShape, Logger: logger}
}

func openAudit(path string) (*audit.Store, error) {
	store, err := audit.Open(audit.Config{Path: path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	return store, nil
}

// pick returns flag when set, otherwise the configured value.
func pick(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}
