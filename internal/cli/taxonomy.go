package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/adgraph/internal/app"
)

func newTaxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect the partition taxonomy of an account",
	}

	var accountID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the partition tree with offer clicks, splitting oversized leaves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), getConfig(cmd), app.Needs{Source: true})
			if err != nil {
				return commandError(err)
			}
			defer a.Close()
			res, err := a.Taxonomy(cmd.Context(), accountID)
			if err != nil {
				return commandError(err)
			}
			out := cmd.OutOrStdout()
			if err := res.Tree.Render(out); err != nil {
				return commandError(err)
			}
			fmt.Fprintf(out, "account=%s nodes=%d items=%d unplaced=%d skipped=%d segments=%d\n",
				accountID, res.Build.Nodes, res.Build.Items, res.Build.Unplaced, len(res.Build.Skipped), len(res.Segments))
			return nil
		},
	}
	show.Flags().StringVarP(&accountID, "account-id", "a", "", "account identifier")
	show.Flags().String("split-dimension", "", "dimension used to split leaves above the click threshold")
	show.Flags().StringSlice("campaign-types", nil, "campaign types to keep (empty keeps all)")
	show.Flags().StringSlice("countries", nil, "sales countries to keep (empty keeps all)")
	_ = show.MarkFlagRequired("account-id")

	cmd.AddCommand(show)
	return cmd
}
