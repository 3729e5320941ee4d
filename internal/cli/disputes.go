package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/dispute"
	"github.com/roach88/fieldledger/internal/event"
)

// NewDisputesCommand creates the disputes command group.
func NewDisputesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "disputes",
		Short:         "Track and resolve inventory discrepancy disputes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newDisputesListCommand(rootOpts))
	cmd.AddCommand(newDisputesShowCommand(rootOpts))
	cmd.AddCommand(newDisputesResolveCommand(rootOpts))
	return cmd
}

func newDisputesListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List disputes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			disputes, err := app.Disputes.List(cmd.Context(), dispute.Status(status))
			if err != nil {
				return commandErr("failed to list disputes", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, disputes, func(w io.Writer) {
				if len(disputes) == 0 {
					fmt.Fprintln(w, "No disputes.")
					return
				}
				for _, d := range disputes {
					fmt.Fprintf(w, "%-40s %-14s %-16s %s\n", d.ID, d.Status, d.Source, d.ProductID)
				}
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newDisputesShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <dispute-id>",
		Short:         "Show one dispute",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			d, err := app.Disputes.Get(cmd.Context(), args[0])
			if err != nil {
				return commandErr("failed to load dispute", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, d, func(w io.Writer) {
				fmt.Fprintf(w, "Dispute %s\n", d.ID)
				fmt.Fprintf(w, "  status:   %s\n", d.Status)
				fmt.Fprintf(w, "  source:   %s\n", d.Source)
				fmt.Fprintf(w, "  product:  %s\n", d.ProductID)
				fmt.Fprintf(w, "  location: %s\n", d.LocationID)
				fmt.Fprintf(w, "  events:   %s\n", strings.Join(d.RelatedEventIDs, ", "))
				for _, n := range d.Notes {
					fmt.Fprintf(w, "  note [%s]: %s\n", n.Author, n.Text)
				}
				if d.Resolution != nil {
					fmt.Fprintf(w, "  resolved: %s by %s\n", d.Resolution.Outcome, d.Resolution.ResolvedBy)
				}
			})
		},
	}
}

func newDisputesResolveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		outcome      string
		by           string
		notes        string
		corrective   []string
		authorizer   string
		writeOff     string
		writeOffUnit string
	)
	cmd := &cobra.Command{
		Use:           "resolve <dispute-id>",
		Short:         "Resolve a dispute with an explicit outcome",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			res := dispute.Resolution{
				Outcome:            dispute.Outcome(outcome),
				Notes:              notes,
				CorrectiveEventIDs: corrective,
				AuthorizedBy:       authorizer,
				ResolvedBy:         by,
			}
			if writeOff != "" {
				value, err := decimal.NewFromString(writeOff)
				if err != nil {
					return commandErr("invalid --write-off amount", err)
				}
				q := event.Quantity{Value: value, Unit: writeOffUnit}
				res.WriteOffAmount = &q
			}
			d, err := app.Disputes.Resolve(cmd.Context(), args[0], res)
			if err != nil {
				return commandErr("failed to resolve dispute", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, d, func(w io.Writer) {
				fmt.Fprintf(w, "Dispute %s resolved: %s\n", d.ID, outcome)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "reconciled|corrected|write_off (required)")
	cmd.Flags().StringVar(&by, "by", "", "resolver identity (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	cmd.Flags().StringSliceVar(&corrective, "corrective-event", nil, "corrective event id (repeatable)")
	cmd.Flags().StringVar(&authorizer, "authorizer", "", "write-off authorizer")
	cmd.Flags().StringVar(&writeOff, "write-off", "", "write-off amount")
	cmd.Flags().StringVar(&writeOffUnit, "write-off-unit", "", "write-off unit")
	_ = cmd.MarkFlagRequired("outcome")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
