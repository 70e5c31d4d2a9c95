package main

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func newQueueCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the backoff queue",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List documents waiting for a retry",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			entries, err := app.Control.Queue(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return printQueue(cmd.OutOrStdout(), entries)
		},
	}

	var strategy string
	retryCmd := &cobra.Command{
		Use:   "retry <document-id>",
		Short: "Re-run the matching workflow for one document now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			parsed, err := domain.ParseRetryStrategy(strategy, "")
			if err != nil {
				return err
			}
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			outcome, err := app.Control.RetryOne(cmd.Context(), id, parsed)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"document_id": id, "outcome": outcome})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %d: %s\n", id, outcome)
			return nil
		},
	}
	retryCmd.Flags().StringVar(&strategy, "strategy", "", "partial reuses the stored extraction, full extracts again (default: config)")

	retryAllCmd := &cobra.Command{
		Use:   "retry-all",
		Short: "Make every queued document due now with attempts reset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			n, err := app.Control.RetryAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d document(s) will be retried on the next cycle\n", n)
			return nil
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the backoff queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the queue without --yes")
			}
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			n, err := app.Control.ClearQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d document(s)\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm removing all entries")

	var limit int
	skippedCmd := &cobra.Command{
		Use:   "skipped",
		Short: "List documents skipped because nothing could be extracted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			entries, err := app.Control.Skipped(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			tw := newTable(cmd.OutOrStdout(), "DOCUMENT", "REASON", "FILE", "SKIPPED AT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.DocumentID, e.Reason, e.FileName, formatTime(e.SkippedAt))
			}
			return tw.Flush()
		},
	}
	skippedCmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many entries")

	cmd.AddCommand(listCmd, retryCmd, retryAllCmd, clearCmd, skippedCmd)
	return cmd
}

func parseDocumentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse document id", errors.Newf("invalid document id %q", raw))
	}
	return id, nil
}
