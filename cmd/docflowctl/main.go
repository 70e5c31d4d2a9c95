package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/bootstrap"
	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/observability/logging"
)

var version = "dev"

// cli holds global flags and the lazily opened application.
type cli struct {
	configPath string
	logLevel   string
	jsonOutput bool

	application *bootstrap.App
	logger      *zap.SugaredLogger
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:   "docflowctl",
		Short: "Operate the docflow document pipeline",
		Long: `docflowctl controls the docflow worker through its shared state store.

Available commands:
  worker   - Show status, pause, resume or trigger a scan
  queue    - Inspect and manage the backoff queue
  workflow - List, validate, apply and delete workflows
  report   - Export processing history as an XLSX workbook
  mcp      - Serve the control tools over MCP stdio

Examples:
  docflowctl worker status
  docflowctl worker scan --timeout 1m
  docflowctl queue retry 42 --strategy full
  docflowctl workflow apply receipts.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default: $CONFIG_FILE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newWorkerCmd(c),
		newQueueCmd(c),
		newWorkflowCmd(c),
		newReportCmd(c),
		newMCPCmd(c),
	)
	return root, c
}

// app opens the store and wires the control surface on first use.
func (c *cli) app(cmd *cobra.Command) (*bootstrap.App, error) {
	if c.application != nil {
		return c.application, nil
	}
	path := c.configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	logger, err := logging.New("docflowctl", c.logLevel, "console")
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	c.application = app
	c.logger = logger
	return app, nil
}

func (c *cli) close() {
	if c.application != nil {
		c.application.Close()
		c.application = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, c := newRootCmd()
	err := root.ExecuteContext(ctx)
	c.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
