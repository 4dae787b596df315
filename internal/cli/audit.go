package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/audit"
)

var (
	auditDB      string
	auditJSON    bool
	auditSince   time.Duration
	auditSession string
	auditTool    string
	auditLimit   int
	auditTop     int
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.PersistentFlags().StringVar(&auditDB, "db", "", "Path to audit database (default ~/.permguard/audit.db)")
	auditCmd.PersistentFlags().BoolVar(&auditJSON, "json", false, "Print results as JSON")

	for _, c := range []*cobra.Command{auditLogsCmd, auditStatsCmd, auditUsageCmd} {
		c.Flags().DurationVar(&auditSince, "since", 0, "Only include events newer than this (e.g. 1h, 24h)")
		c.Flags().StringVar(&auditSession, "session", "", "Only include this session")
		c.Flags().StringVar(&auditTool, "tool", "", "Only include this tool")
	}
	auditLogsCmd.Flags().IntVarP(&auditLimit, "limit", "n", audit.DefaultLimit, "Maximum rows to show")
	auditUsageCmd.Flags().IntVar(&auditTop, "top", 10, "Number of tools to rank")

	auditCmd.AddCommand(auditLogsCmd, auditStatsCmd, auditUsageCmd, auditTimelineCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
	Long:  "Commands for reading recorded tool executions, sessions and permission decisions.",
}

var auditLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent tool executions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAuditLogs,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize tool executions and permission decisions",
	Args:  cobra.NoArgs,
	RunE:  runAuditStats,
}

var auditUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Rank tools by number of calls",
	Args:  cobra.NoArgs,
	RunE:  runAuditUsage,
}

var auditTimelineCmd = &cobra.Command{
	Use:   "timeline <session-id>",
	Short: "Show one session's events in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTimeline,
}

func auditFilter() audit.Filter {
	f := audit.Filter{SessionID: auditSession, Name: auditTool, Limit: auditLimit}
	if auditSince > 0 {
		f.Since = time.Now().Add(-auditSince)
	}
	return f
}

// withAudit opens the store for the duration of fn.
func withAudit(fn func(*audit.Store) error) error {
	store, err := openAudit(pick(auditDB, settings.AuditDB))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printAudit(cmd *cobra.Command, v any, text string) error {
	if auditJSON {
		out, err := audit.FormatJSON(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func runAuditLogs(cmd *cobra.Command, args []string) error {
	return withAudit(func(s *audit.Store) error {
		rows := s.Logs(cmd.Context(), auditFilter())
		if rows == nil {
			rows = []audit.ToolExecution{}
		}
		return printAudit(cmd, rows, audit.FormatLogs(rows))
	})
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	return withAudit(func(s *audit.Store) error {
		st := s.Stats(cmd.Context(), auditFilter())
		return printAudit(cmd, st, audit.FormatStats(st, s.SizeBytes()))
	})
}

func runAuditUsage(cmd *cobra.Command, args []string) error {
	return withAudit(func(s *audit.Store) error {
		rows := s.UsageByName(cmd.Context(), auditFilter(), auditTop)
		if rows == nil {
			rows = []audit.NameUsage{}
		}
		return printAudit(cmd, rows, audit.FormatUsage(rows))
	})
}

func runAuditTimeline(cmd *cobra.Command, args []string) error {
	return withAudit(func(s *audit.Store) error {
		events := s.SessionTimeline(cmd.Context(), args[0])
		if events == nil {
			events = []audit.TimelineEvent{}
		}
		return printAudit(cmd, events, audit.FormatTimeline(args[0], events))
	})
}
