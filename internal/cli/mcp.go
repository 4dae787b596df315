package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/alert"
	"github.com/ppiankov/permguard/internal/cmdguard"
	guardmcp "github.com/ppiankov/permguard/internal/mcp"
	"github.com/ppiankov/permguard/internal/policy"
	"github.com/ppiankov/permguard/internal/server"
)

var (
	mcpRules   string
	mcpDB      string
	mcpWorkDir string
	mcpWatch   bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVarP(&mcpRules, "rules", "r", "", "Path to rules file (YAML or JSONC)")
	mcpCmd.Flags().StringVar(&mcpDB, "db", "", "Path to audit database (default ~/.permguard/audit.db)")
	mcpCmd.Flags().StringVarP(&mcpWorkDir, "workdir", "w", "", "Default working directory for path constraints")
	mcpCmd.Flags().BoolVar(&mcpWatch, "watch", false, "Reload the rules file when it changes")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP hook server on stdio",
	Long: "Runs permguard as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: permission_check, tool_start, tool_end, session_event, audit_stats, exec.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	store, err := openAudit(pick(mcpDB, settings.AuditDB))
	if err != nil {
		return err
	}
	defer store.Close()

	validator := newValidator()
	rules := policy.NewStore(pick(mcpRules, settings.Rules), loadOptions(validator))
	if cfg := rules.Config(); cfg.FailSafe() {
		fmt.Fprintf(os.Stderr, "warning: rules failed to load, denying everything: %v\n", cfg.Errors)
	}

	alerts := alert.NewDispatcher(settings.Alerts, logger)
	defer alerts.Wait()

	guard, err := cmdguard.NewGuard(cmdguard.Config{
		Rules:     rules,
		Validator: validator,
		Audit:     store,
		Alerts:    alerts,
		WorkDir:   pick(mcpWorkDir, settings.WorkDir),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	srv, err := guardmcp.New(guardmcp.Config{Guard: guard, Audit: store, Version: Version})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if mcpWatch || settings.Watch {
		reloader, err := server.NewReloader(rules, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	fmt.Fprintln(os.Stderr, "permguard MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Rules: %s\n", rules.Path())
	fmt.Fprintf(os.Stderr, "Audit database: %s\n", store.Path())

	return srv.Run(ctx)
}
