package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wheelcast/internal/db"
	"github.com/banshee-data/wheelcast/internal/report"
	"github.com/banshee-data/wheelcast/internal/security"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var out string
	var limit int
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "List recorded runs or summarise one",
		Long: `Without a run ID, list the most recent recorded runs. With one, print the
timing summary of that run and, with --out, write a chart (.html or .png).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			if s.DB.Path == "" {
				return errors.New("no run database: pass --db or set db.path")
			}
			runs, err := db.OpenAndMigrate(s.DB.Path)
			if err != nil {
				return err
			}
			defer runs.Close()

			if len(args) == 0 {
				return listRuns(cmd, runs, limit)
			}
			return reportRun(cmd, runs, args[0], out)
		},
	}
	cmd.Flags().String("db", "", "run database")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a chart to this file (.html or .png)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}

func listRuns(cmd *cobra.Command, runs *db.DB, limit int) error {
	list, err := runs.ListRuns(limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTARGET\tRATE\tSENT\tSTOP")
	for _, r := range list {
		stop := "running"
		if r.Finished() {
			stop = r.StopReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Target, r.RateHz, r.Sent, stop)
	}
	return tw.Flush()
}

func reportRun(cmd *cobra.Command, runs *db.DB, id, out string) error {
	run, err := runs.GetRun(id)
	if err != nil {
		return err
	}
	ticks, err := runs.RunTicks(id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s: %s at %g Hz, started %s\n", run.ID, run.Target, run.RateHz, run.StartedAt.Local().Format(time.DateTime))
	if run.Finished() {
		fmt.Fprintf(w, "stopped:       %s (%s), failsafe sent %t\n", run.StopReason, run.StoppedAt.Sub(run.StartedAt).Round(time.Millisecond), run.FailsafeSent)
	}
	if err := report.Summarize(ticks).WriteText(w); err != nil {
		return err
	}
	if out == "" {
		return nil
	}

	if err := security.ValidateChartPath(out); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(out)) {
	case ".png":
		err = report.RenderPNG(f, run, ticks, 10*vg.Inch, 4*vg.Inch)
	default:
		err = report.RenderHTML(f, run, ticks)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "chart written to %s\n", out)
	return nil
}
