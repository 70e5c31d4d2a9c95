package main

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/docflow/internal/adapters/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve worker control tools over MCP stdio",
		Long: `Serve the worker control surface as Model Context Protocol tools on stdin/stdout.

Tools: worker_status, worker_pause, worker_resume, scan_now, retry_document,
retry_all, clear_queue. Diagnostics go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			return mcpadapter.NewServer(app.Control, app.TriggerOptions(), version, app.Logger).Serve()
		},
	}
}
