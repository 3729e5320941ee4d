package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/ledger"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Device string
	Queue  string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a device sync cycle",
		Long: `Run one sync cycle for a device: download the current view, stage the
queued events from a JSON file, then upload them strictly in sequence
order and download again.

The queue file holds a JSON array of events. Outcomes are reported per
event; a conflict halts the remainder of the queue.

Exit codes:
  0 - every staged event synced
  1 - an event conflicted, failed, or was quarantined
  2 - command error

Example:
  fieldledger sync --db ./ledger.db --catalog ./catalog.yaml --device truck-7 --queue queue.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Device, "device", "", "device id (required)")
	cmd.Flags().StringVar(&opts.Queue, "queue", "", "queued events JSON file (required)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	events, err := readQueue(opts.Queue)
	if err != nil {
		return commandErr("failed to read queue", err)
	}

	app, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := app.Registry.Register(ctx, opts.Device); err != nil {
		return commandErr("failed to register device", err)
	}

	client := syncer.NewClient(opts.Device, app.Server, app.Catalog, app.Config.Sync, notify.LogNotifier{}, ledger.SystemClock{})

	// Warm the cached view so staged events carry a current base hash.
	if err := client.Cycle(ctx); err != nil {
		return commandErr("initial download failed", err)
	}
	for _, ev := range events {
		if _, err := client.Stage(ev); err != nil {
			return commandErr("failed to stage event", err)
		}
	}
	if err := client.Cycle(ctx); err != nil {
		return commandErr("sync cycle failed", err)
	}

	queue := client.Queue()
	clean := true
	for _, q := range queue {
		if q.Status != event.SyncSynced {
			clean = false
		}
	}
	if err := emit(cmd.OutOrStdout(), opts.Format, queueData(queue), func(w io.Writer) {
		for _, q := range queue {
			if q.Failure != "" {
				fmt.Fprintf(w, "%-40s %-12s %s\n", q.Event.ID, q.Status, q.Failure)
			} else {
				fmt.Fprintf(w, "%-40s %s\n", q.Event.ID, q.Status)
			}
		}
		if id, halted := client.Halted(); halted {
			fmt.Fprintf(w, "Upload halted on conflict %s; resolve it and sync again.\n", id)
		}
	}); err != nil {
		return err
	}
	if !clean {
		return failure("not every event synced")
	}
	return nil
}

func readQueue(path string) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var events []event.Event
	if err := json.NewDecoder(f).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return events, nil
}

func queueData(queue []*syncer.QueuedEvent) []map[string]string {
	out := make([]map[string]string, 0, len(queue))
	for _, q := range queue {
		entry := map[string]string{
			"event":  q.Event.ID,
			"status": string(q.Status),
		}
		if q.Failure != "" {
			entry["failure"] = q.Failure
		}
		out = append(out, entry)
	}
	return out
}
