package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/adgraph/internal/app"
	"github.com/yungbote/adgraph/internal/migrate"
)

type migrateOptions struct {
	AccountID string
	Account   bool
	Shopping  bool
}

func newMigrateCmd() *cobra.Command {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Load one account's structure into its graph keyspace",
		Long: `Apply the schema modules the action needs, then load source rows into the
account keyspace one transaction per row.

--account loads campaigns and ad groups; --shopping loads product partitions,
case values, products and the derived partition hierarchy.`,
		Example: `  # Load campaigns and ad groups of account 42
  adgraph migrate -a 42 -s graph.internal --account

  # Load the shopping structure of shopping campaigns only, without writing
  adgraph migrate -a 42 --shopping --campaign-types SHOPPING --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.AccountID, "account-id", "a", "", "account identifier")
	f.BoolVar(&opts.Account, "account", false, "load campaigns and ad groups")
	f.BoolVar(&opts.Shopping, "shopping", false, "load product partitions, offers and hierarchy")
	f.StringSlice("campaign-types", nil, "campaign types to keep (empty keeps all)")
	f.StringSlice("adgroup-types", nil, "ad group types to keep (empty keeps all)")
	f.StringSlice("countries", nil, "sales countries to keep (empty keeps all)")
	f.Bool("include-paused", false, "select archived (paused) rows instead of active ones")
	f.Bool("optimized-only", false, "keep only campaigns flagged for optimization")
	f.Int("limit", 0, "cap the rows of each phase (0 = unlimited)")
	f.Int("workers", 0, "concurrent row writers")
	f.Int("prefetch", 0, "source rows buffered ahead of the writers")
	f.Bool("dry-run", false, "write into an in-process graph store instead of the real one")

	_ = cmd.MarkFlagRequired("account-id")
	cmd.MarkFlagsMutuallyExclusive("account", "shopping")
	cmd.MarkFlagsOneRequired("account", "shopping")
	return cmd
}

func runMigrate(cmd *cobra.Command, opts *migrateOptions) error {
	action := migrate.ActionAccount
	if opts.Shopping {
		action = migrate.ActionShopping
	}

	a, err := newApp(cmd.Context(), getConfig(cmd), app.Needs{Source: true, Graph: true})
	if err != nil {
		return commandError(err)
	}
	defer a.Close()

	res, err := a.Migrate(cmd.Context(), opts.AccountID, action)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s keyspace=%s action=%s duration=%s\n", res.RunID, res.Keyspace, res.Action, res.Duration.Round(time.Millisecond))
	for _, c := range res.Schema {
		fmt.Fprintf(out, "schema %-9s created=%d\n", c.Module, c.Total())
	}
	if werr := res.Summary.WriteTable(out); werr != nil {
		return commandError(werr)
	}
	if err != nil {
		return commandError(err)
	}
	if n := res.Failed(); n > 0 {
		return &ExitCoder{Code: ExitRowFailure, Err: fmt.Errorf("%d rows failed", n)}
	}
	return nil
}
