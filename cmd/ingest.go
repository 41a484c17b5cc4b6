package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/ingest"
)

var ingestDate string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest companies incorporated on a date",
	Long:  "Runs one ingestion for --date (YYYY-MM-DD), defaulting to yesterday in the configured timezone, and prints the run result as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		date, err := ingest.ResolveTargetDate(ingestDate, cfg.Ingest.Timezone, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.buildPipeline(ctx)
		if err != nil {
			return err
		}

		res, err := p.Run(ctx, date)
		if err != nil {
			if res != nil {
				zap.L().Error("ingest failed", zap.String("run_id", res.RunID), zap.Error(err))
			}
			return err
		}

		return printJSON(os.Stdout, res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "target incorporation date, YYYY-MM-DD (default yesterday)")
	rootCmd.AddCommand(ingestCmd)
}
