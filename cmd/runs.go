package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ch-ingest/internal/ingest"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
	Long:  "Commands for listing, viewing, tailing, deleting, and reconciling ingestion runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		date, _ := cmd.Flags().GetString("date")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := env.Store.ListRuns(ctx, store.RunFilter{
			Status:     model.RunStatus(status),
			TargetDate: date,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show full details of a run",
	Long:  "Shows the run with the given ID, or the latest run for --date (default yesterday) when no ID is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var run *model.Run
		if len(args) == 1 {
			run, err = env.Store.GetRun(ctx, args[0])
		} else {
			date, _ := cmd.Flags().GetString("date")
			date, err = ingest.ResolveTargetDate(date, cfg.Ingest.Timezone, time.Now())
			if err != nil {
				return err
			}
			run, err = env.Store.LatestRunForDate(ctx, date)
		}
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		stored, err := env.Store.CountCompanies(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		return printJSON(os.Stdout, struct {
			*model.Run
			StoredCompanies int `json:"stored_companies"`
		}{run, stored})
	},
}

// -- runs logs --

var runsLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print a run's log entries in insertion order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")
		newest, _ := cmd.Flags().GetBool("newest")

		entries, err := env.Store.ListLogs(ctx, args[0], store.LogFilter{
			AfterID: after,
			Newest:  newest,
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs logs")
		}

		formatLogs(os.Stdout, entries)
		return nil
	},
}

// -- runs delete --

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a finished run and everything it stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs delete")
		}
		if !run.Status.Terminal() {
			return eris.Errorf("runs delete: run %s is still %s", run.ID, run.Status)
		}

		if err := env.Store.DeleteRun(ctx, run.ID); err != nil {
			return eris.Wrap(err, "runs delete")
		}
		fmt.Fprintf(os.Stderr, "Deleted run %s (%s).\n", run.ID, run.TargetDate)
		return nil
	},
}

// -- runs sweep --

var runsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail running runs whose heartbeat has expired",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := ingest.NewSweeper(env.Store, cfg.Sweep, nil).SweepOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Marked %d stale run(s) as failed.\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (pending, running, completed, failed)")
	runsListCmd.Flags().String("date", "", "filter by target date (YYYY-MM-DD)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("date", "", "target date whose latest run to show when no run ID is given")

	runsLogsCmd.Flags().Int64("after", 0, "only entries with an id greater than this")
	runsLogsCmd.Flags().Int("limit", 200, "max number of entries")
	runsLogsCmd.Flags().Bool("newest", false, "show the newest entries first")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsLogsCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsSweepCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATE\tSTATUS\tCOMPANIES\tPAGES\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t---------\t-----\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.TargetDate,
			r.Status,
			r.TotalCompanies,
			r.PagesFetched,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatLogs writes one line per entry with metadata keys in sorted order.
func formatLogs(out io.Writer, entries []model.LogEntry) {
	for _, e := range entries {
		line := fmt.Sprintf("%d %s %-7s %s",
			e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.Level, e.Message)

		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf(" %s=%v", k, e.Metadata[k])
		}
		_, _ = fmt.Fprintln(out, line)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
