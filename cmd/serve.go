package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ch-ingest/internal/api"
	"github.com/sells-group/ch-ingest/internal/ingest"
	"github.com/sells-group/ch-ingest/internal/metrics"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API and the stale-run sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()
		env.Metrics = metrics.New()

		p, err := env.buildPipeline(ctx)
		if err != nil {
			return err
		}
		resolver, contacts := env.buildContacts()

		srv := api.New(cfg.Server, api.Deps{
			Store:    env.Store,
			Ingester: p,
			Resolver: resolver,
			Contacts: contacts,
			Metrics:  env.Metrics,
			Timezone: cfg.Ingest.Timezone,
		})
		sweeper := ingest.NewSweeper(env.Store, cfg.Sweep, env.Metrics)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			return srv.Serve(gctx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
