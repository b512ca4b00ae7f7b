package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/lifecycle/internal/eventtype"
	"github.com/matthewbaird/lifecycle/internal/types"
)

func newEventTypesCmd() *cobra.Command {
	var (
		category string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "event-types",
		Short: "List the event type catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := eventtype.Load()
			if err != nil {
				return err
			}
			var defs []types.EventTypeDefinition
			if category != "" {
				defs = reg.EventTypesByCategory(category)
			} else {
				defs = reg.EventTypes()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tTASKS\tFALLBACKS\tESCALATIONS\tTEMPLATES")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
					d.ID, d.Category, len(d.DefaultTasks), len(d.FallbackRules),
					len(d.EscalationRules), len(reg.Templates(d.ID)))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list types in this category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full definitions as JSON")
	return cmd
}
