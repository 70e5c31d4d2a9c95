package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kirillkom/docflow/internal/infrastructure/report"
)

func newReportCmd(c *cli) *cobra.Command {
	var (
		outPath string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export history, backoff queue and skipped documents to XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app(cmd)
			if err != nil {
				return err
			}
			data, err := report.Collect(cmd.Context(), app.Control, limit, time.Now())
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = "docflow-report-" + data.GeneratedAt.Format("20060102-150405") + ".xlsx"
			}
			f, err := os.Create(outPath)
			if err != nil {
				return errors.Wrapf(err, "create %s", outPath)
			}
			w := bufio.NewWriter(f)
			if err := report.WriteXLSX(w, data); err != nil {
				_ = f.Close()
				return err
			}
			if err := w.Flush(); err != nil {
				_ = f.Close()
				return errors.Wrapf(err, "write %s", outPath)
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "close %s", outPath)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s (%d history rows)\n", outPath, len(data.History))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: docflow-report-<timestamp>.xlsx)")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum history rows")
	return cmd
}
