package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/device"
)

// NewDevicesCommand creates the devices command group.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "devices",
		Short:         "Manage device registrations and trust status",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newDevicesListCommand(rootOpts))
	cmd.AddCommand(newDevicesRegisterCommand(rootOpts))
	cmd.AddCommand(newDevicesStatusCommand(rootOpts))
	cmd.AddCommand(newDevicesQuarantineCommand(rootOpts))
	return cmd
}

func newDevicesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List registered devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			devices, err := app.Registry.List(cmd.Context())
			if err != nil {
				return commandErr("failed to list devices", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, devices, func(w io.Writer) {
				if len(devices) == 0 {
					fmt.Fprintln(w, "No devices registered.")
					return
				}
				for _, d := range devices {
					fmt.Fprintf(w, "%-20s %-10s last_seq=%d\n", d.ID, d.Status, d.LastSeq)
				}
			})
		},
	}
}

func newDevicesRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "register <device-id>",
		Short:         "Register a device as active",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Registry.Register(cmd.Context(), args[0]); err != nil {
				return commandErr("failed to register device", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format,
				map[string]string{"device": args[0], "status": string(device.TrustActive)},
				func(w io.Writer) {
					fmt.Fprintf(w, "Device %s registered.\n", args[0])
				})
		},
	}
}

func newDevicesStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <device-id> <active|suspended|revoked>",
		Short:         "Set a device's trust status",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := device.TrustStatus(args[1])
			if !status.Valid() {
				return commandErr(fmt.Sprintf("unknown trust status %q", args[1]), nil)
			}
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Registry.SetStatus(cmd.Context(), args[0], status); err != nil {
				return commandErr("failed to set device status", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format,
				map[string]string{"device": args[0], "status": args[1]},
				func(w io.Writer) {
					fmt.Fprintf(w, "Device %s is now %s.\n", args[0], args[1])
				})
		},
	}
}

func newDevicesQuarantineCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "quarantine <device-id>",
		Short:         "List a device's quarantined events",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			held, err := app.Registry.Quarantined(cmd.Context(), args[0])
			if err != nil {
				return commandErr("failed to list quarantined events", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, held, func(w io.Writer) {
				if len(held) == 0 {
					fmt.Fprintln(w, "No quarantined events.")
					return
				}
				for _, q := range held {
					fmt.Fprintf(w, "%-40s %-20s %s\n", q.Event.ID, q.Reason, q.HeldAt.Format("2006-01-02T15:04:05Z07:00"))
				}
			})
		},
	}
}
