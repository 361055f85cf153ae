package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-tracker/internal/app"
)

// NewReplayCommand creates the replay command, which feeds a saved SNS
// envelope through the notification reconciler.
func NewReplayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <envelope.json|->",
		Short: "Apply a saved SNS envelope as if it arrived on the webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}

			return opts.withApp(cmd.Context(), func(a *app.App) error {
				ack, err := a.Tracker.HandleEnvelope(cmd.Context(), raw)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ack)
				return nil
			})
		},
	}
}
