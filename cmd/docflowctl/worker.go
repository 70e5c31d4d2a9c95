package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newWorkerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect and control the scan worker",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pause state, last scan and queue size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			status, err := app.Control.Status(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	var reason string
	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause the worker after the current document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			if err := app.Control.Pause(cmd.Context(), reason); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Worker paused")
			return nil
		},
	}
	pauseCmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the pause")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			if err := app.Control.Resume(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Worker resumed")
			return nil
		},
	}

	var timeout, minWait time.Duration
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Trigger a scan cycle and wait for it to complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			opts := app.TriggerOptions()
			if cmd.Flags().Changed("timeout") {
				opts.Timeout = timeout
			}
			if cmd.Flags().Changed("min-wait") {
				opts.MinWait = minWait
			}
			result, err := app.Control.TriggerScanAndWait(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			switch {
			case result.Confirmed:
				fmt.Fprintln(out, "Scan completed")
				if result.Summary != nil {
					printSummary(out, *result.Summary)
				}
			case result.Paused:
				fmt.Fprintln(out, "Scan requested, but the worker is paused")
			default:
				fmt.Fprintln(out, "Scan requested, completion not confirmed before timeout")
			}
			return nil
		},
	}
	scanCmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the cycle (default: config)")
	scanCmd.Flags().DurationVar(&minWait, "min-wait", 0, "Minimum time to wait before returning (default: config)")

	cmd.AddCommand(statusCmd, pauseCmd, resumeCmd, scanCmd)
	return cmd
}
