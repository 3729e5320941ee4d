package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/event"
)

// InventoryOptions holds flags for the inventory command.
type InventoryOptions struct {
	*RootOptions
	Product  string
	Location string
	Lot      string
	AsOf     string
}

// NewInventoryCommand creates the inventory command.
func NewInventoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InventoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Compute inventory by folding the ledger",
		Long: `Compute inventory for a scope by folding events up to a point in time.

Inventory is never stored; every query is a fresh fold, so --as-of gives
an exact historical view.

Examples:
  fieldledger inventory --db ./ledger.db --catalog ./catalog.yaml
  fieldledger inventory --db ./ledger.db --catalog ./catalog.yaml --product prod-x --location loc-vehicle
  fieldledger inventory --db ./ledger.db --catalog ./catalog.yaml --as-of 2026-06-01T12:00:00Z`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Product, "product", "", "restrict to one product")
	cmd.Flags().StringVar(&opts.Location, "location", "", "restrict to one location")
	cmd.Flags().StringVar(&opts.Lot, "lot", "", "restrict to one lot")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "point in time (RFC 3339), default now")
	return cmd
}

func runInventory(opts *InventoryOptions, cmd *cobra.Command) error {
	app, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	var tr event.TimeRange
	if opts.AsOf != "" {
		asOf, err := time.Parse(time.RFC3339, opts.AsOf)
		if err != nil {
			return commandErr("invalid --as-of", err)
		}
		tr.To = asOf
	}
	scope := event.Scope{
		ProductID:  opts.Product,
		LocationID: opts.Location,
		Lot:        opts.Lot,
	}

	state, err := app.Reducer.InventoryAt(cmd.Context(), scope, tr)
	if err != nil {
		return commandErr("fold failed", err)
	}

	entries := state.Entries()
	return emit(cmd.OutOrStdout(), opts.Format, entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No inventory in scope.")
			return
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-60s %s\n", k, entries[k])
		}
	})
}
