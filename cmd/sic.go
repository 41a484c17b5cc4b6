package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/fetcher"
	"github.com/sells-group/ch-ingest/internal/store"
)

var sicCmd = &cobra.Command{
	Use:   "sic",
	Short: "Manage the SIC code lookup table",
}

var sicLoadCmd = &cobra.Command{
	Use:   "load <file-or-url>",
	Short: "Load SIC codes from a code,description CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := loadSicCodes(ctx, env.Store, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Loaded %d SIC code(s).\n", n)
		return nil
	},
}

var sicLinkCmd = &cobra.Command{
	Use:   "link <run-id>",
	Short: "Link a run's companies to the SIC lookup table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "sic link")
		}
		n, err := env.Store.LinkCompanySicCodes(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sic link")
		}
		fmt.Fprintf(os.Stderr, "Linked %d company/SIC pair(s).\n", n)
		return nil
	},
}

func init() {
	sicCmd.AddCommand(sicLoadCmd)
	sicCmd.AddCommand(sicLinkCmd)
	rootCmd.AddCommand(sicCmd)
}

// loadSicCodes reads src through f when it is a URL, parses it, and upserts
// the codes. It returns the number of rows written.
func loadSicCodes(ctx context.Context, st store.Store, f fetcher.Fetcher, src string) (int64, error) {
	rc, err := fetcher.Open(ctx, f, src)
	if err != nil {
		return 0, eris.Wrap(err, "sic load")
	}
	defer rc.Close() //nolint:errcheck

	codes, err := fetcher.ParseSicCodes(ctx, rc)
	if err != nil {
		return 0, eris.Wrapf(err, "sic load: parse %s", src)
	}

	n, err := st.UpsertSicCodes(ctx, codes)
	if err != nil {
		return 0, eris.Wrap(err, "sic load")
	}
	zap.L().Info("sic codes loaded", zap.String("source", src), zap.Int("parsed", len(codes)), zap.Int64("written", n))
	return n, nil
}
