package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldledger/internal/store"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty ledger database",
		Long: `Create the SQLite database and schema for a new ledger.

Example:
  fieldledger init --db ./ledger.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Database == "" {
				return commandErr("--db is required", nil)
			}
			st, err := store.Open(rootOpts.Database)
			if err != nil {
				return commandErr("failed to create database", err)
			}
			defer st.Close()
			return emit(cmd.OutOrStdout(), rootOpts.Format,
				map[string]string{"database": rootOpts.Database},
				func(w io.Writer) {
					fmt.Fprintf(w, "Ledger database ready at %s\n", rootOpts.Database)
				})
		},
	}
}
