package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/permguard/internal/metrics"
)

var (
	serveListen string
	serveDB     string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Metrics listen address (default 127.0.0.1:9464)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Path to audit database (default ~/.permguard/audit.db)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve audit metrics over HTTP",
	Long:  "Exposes the audit trail as Prometheus text on GET /metrics and a liveness\ncheck on GET /health. Every scrape aggregates the audit database.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := openAudit(pick(serveDB, settings.AuditDB))
	if err != nil {
		return err
	}
	defer store.Close()

	srv := metrics.NewServer(pick(serveListen, settings.Listen), metrics.NewCollector(store), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return srv.Start(ctx, func(addr string) {
		fmt.Fprintf(os.Stderr, "permguard metrics listening on http://%s/metrics\n", addr)
		fmt.Fprintf(os.Stderr, "Audit database: %s\n", store.Path())
	})
}
