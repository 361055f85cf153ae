package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-tracker/internal/app"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sent messages older than tracker.expire_days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				if a.Config.Tracker.ExpireDays <= 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "retention disabled (tracker.expire_days is 0)")
					return nil
				}
				deleted, err := a.Sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages created before %s\n",
					deleted, a.Sweeper.Cutoff().Format(time.RFC3339))
				return nil
			})
		},
	}
}
