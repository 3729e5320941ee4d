package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/workflow"
)

// NewRequestsCommand creates the requests command group.
func NewRequestsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "requests",
		Short:         "Inspect and advance approval requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRequestsListCommand(rootOpts))
	cmd.AddCommand(newRequestsShowCommand(rootOpts))
	cmd.AddCommand(newRequestsDecideCommand(rootOpts))
	cmd.AddCommand(newRequestsExecuteCommand(rootOpts))
	return cmd
}

func newRequestsListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			requests, err := app.Workflow.List(cmd.Context(), workflow.Status(status))
			if err != nil {
				return commandErr("failed to list requests", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, requests, func(w io.Writer) {
				if len(requests) == 0 {
					fmt.Fprintln(w, "No requests.")
					return
				}
				for _, r := range requests {
					fmt.Fprintf(w, "%-40s %-22s %-12s %s\n", r.ID, r.Status, r.Type, r.InitiatedBy)
				}
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newRequestsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <request-id>",
		Short:         "Show one request",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			r, err := app.Workflow.Get(cmd.Context(), args[0])
			if err != nil {
				return commandErr("failed to load request", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, r, func(w io.Writer) {
				fmt.Fprintf(w, "Request %s\n", r.ID)
				fmt.Fprintf(w, "  type:      %s\n", r.Type)
				fmt.Fprintf(w, "  status:    %s\n", r.Status)
				fmt.Fprintf(w, "  initiator: %s\n", r.InitiatedBy)
				for i, it := range r.Items {
					fmt.Fprintf(w, "  item %d:    %s %s  %s -> %s approved=%v\n",
						i, it.Quantity, it.ProductID, it.FromLocation, it.ToLocation, it.Approved)
				}
				for i, s := range r.Chain {
					fmt.Fprintf(w, "  step %d:    role=%s decision=%s by=%s\n",
						i, s.RequiredRole, s.Decision, s.DecidedBy)
				}
				if len(r.ProducedEventIDs) > 0 {
					fmt.Fprintf(w, "  events:    %v\n", r.ProducedEventIDs)
				}
			})
		},
	}
}

func newRequestsDecideCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		by       string
		deny     bool
		reason   string
		override bool
	)
	cmd := &cobra.Command{
		Use:           "decide <request-id>",
		Short:         "Approve or deny the current approval step",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			r, err := app.Workflow.Decide(cmd.Context(), args[0], workflow.DecideArgs{
				By:                by,
				Approve:           !deny,
				Reason:            reason,
				EmergencyOverride: override,
			})
			if err != nil {
				return commandErr("decision failed", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, r, func(w io.Writer) {
				fmt.Fprintf(w, "Request %s is now %s.\n", r.ID, r.Status)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "decider identity (required)")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	cmd.Flags().StringVar(&reason, "reason", "", "decision reason (required for denial)")
	cmd.Flags().BoolVar(&override, "emergency-override", false, "decide under logged emergency override")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newRequestsExecuteCommand(rootOpts *RootOptions) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:           "execute <request-id>",
		Short:         "Commit a completed request's events to the ledger",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			r, err := app.Workflow.Execute(cmd.Context(), args[0], by)
			if err != nil {
				return commandErr("execution failed", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, r, func(w io.Writer) {
				fmt.Fprintf(w, "Request %s executed; events: %v\n", r.ID, r.ProducedEventIDs)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "performing identity (required)")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
