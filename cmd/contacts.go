package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ch-ingest/internal/contact"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Look up officer contact details",
}

var contactQuery contact.Query

var contactsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run an ad-hoc tiered people search",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if contactQuery.Name == "" {
			return eris.New("contacts search: --name is required")
		}

		env, err := initEnv(ctx, "contacts")
		if err != nil {
			return err
		}
		defer env.Close()

		resolver, _ := env.buildContacts()
		return printJSON(os.Stdout, resolver.Resolve(ctx, contactQuery))
	},
}

var contactsOfficerCmd = &cobra.Command{
	Use:   "officer <officer-id>",
	Short: "Resolve and store the contact for one officer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "contacts")
		if err != nil {
			return err
		}
		defer env.Close()

		_, svc := env.buildContacts()
		c, err := svc.ResolveOfficer(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, c)
	},
}

var contactsRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Resolve contacts for every officer stored by a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "contacts")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "contacts run")
		}

		_, svc := env.buildContacts()
		summary, err := svc.ResolveRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, summary)
	},
}

func init() {
	f := contactsSearchCmd.Flags()
	f.StringVar(&contactQuery.Name, "name", "", "full name of the person (required)")
	f.StringVar(&contactQuery.Location, "location", "", "country or region")
	f.StringVar(&contactQuery.DetailedLocation, "detailed-location", "", "city-level location, e.g. \"Leeds, United Kingdom\"")
	f.StringVar(&contactQuery.Occupation, "occupation", "", "current job title")
	f.StringSliceVar(&contactQuery.CompanySICCodes, "sic", nil, "company SIC codes (repeatable)")

	contactsCmd.AddCommand(contactsSearchCmd)
	contactsCmd.AddCommand(contactsOfficerCmd)
	contactsCmd.AddCommand(contactsRunCmd)
	rootCmd.AddCommand(contactsCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
