package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/syncer"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	File string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one event to the ledger",
		Long: `Submit a single event, read as JSON from a file or stdin.

Submission is idempotent by event id: resubmitting a committed id
returns the original result.

Exit codes:
  0 - accepted or duplicate
  1 - rejected, conflicted, or quarantined
  2 - command error

Example:
  fieldledger submit --db ./ledger.db --catalog ./catalog.yaml --file event.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "-", "event JSON file, - for stdin")
	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	ev, err := readEvent(opts.File, cmd.InOrStdin())
	if err != nil {
		return commandErr("failed to read event", err)
	}

	app, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Server.Submit(cmd.Context(), ev)
	if err != nil {
		return commandErr("submit failed", err)
	}

	if err := emit(cmd.OutOrStdout(), opts.Format, submitData(res), func(w io.Writer) {
		printResult(w, res)
	}); err != nil {
		return err
	}
	if res.Outcome != syncer.OutcomeAccepted && res.Outcome != syncer.OutcomeDuplicate {
		return failure(fmt.Sprintf("event %s: %s", ev.ID, res.Outcome))
	}
	return nil
}

func readEvent(path string, stdin io.Reader) (event.Event, error) {
	var r io.Reader = stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return event.Event{}, err
		}
		defer f.Close()
		r = f
	}
	var ev event.Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// submitData shapes a Result for JSON output.
func submitData(res syncer.Result) map[string]any {
	data := map[string]any{"outcome": res.Outcome}
	switch res.Outcome {
	case syncer.OutcomeAccepted, syncer.OutcomeDuplicate:
		data["commit_seq"] = res.Committed.CommitSeq
		data["recorded_at"] = res.Committed.RecordedAt
	case syncer.OutcomeConflict:
		data["conflict_id"] = res.Conflict.ID
		data["detail"] = res.Conflict.Detail
	case syncer.OutcomeRejected:
		if res.Rejection != nil {
			data["code"] = res.Rejection.Code
			data["message"] = res.Rejection.Message
		} else if res.SequenceError != nil {
			data["code"] = res.SequenceError.Code
			data["message"] = res.SequenceError.Error()
		}
	case syncer.OutcomeQuarantined:
		data["code"] = res.SequenceError.Code
	}
	return data
}

func printResult(w io.Writer, res syncer.Result) {
	switch res.Outcome {
	case syncer.OutcomeAccepted:
		fmt.Fprintf(w, "accepted: commit_seq=%d recorded_at=%s\n", res.Committed.CommitSeq, res.Committed.RecordedAt.Format("2006-01-02T15:04:05Z07:00"))
	case syncer.OutcomeDuplicate:
		fmt.Fprintf(w, "duplicate: already committed at commit_seq=%d\n", res.Committed.CommitSeq)
	case syncer.OutcomeConflict:
		fmt.Fprintf(w, "conflict %s: %v\n", res.Conflict.ID, res.Conflict.Detail)
	case syncer.OutcomeRejected:
		if res.Rejection != nil {
			fmt.Fprintf(w, "rejected [%s]: %s\n", res.Rejection.Code, res.Rejection.Message)
		} else if res.SequenceError != nil {
			fmt.Fprintf(w, "rejected [%s]\n", res.SequenceError.Code)
		}
	case syncer.OutcomeQuarantined:
		fmt.Fprintf(w, "quarantined [%s]: held for manager review\n", res.SequenceError.Code)
	}
}
