package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-tracker/internal/app"
	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// ShowResult is the JSON printed by the show command.
type ShowResult struct {
	Message *domain.SentMessage  `json:"message"`
	Links   []domain.TrackedLink `json:"links"`
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	var withContent bool

	cmd := &cobra.Command{
		Use:   "show <hash>",
		Short: "Print a sent message and its links as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				msg, err := a.Tracker.Message(ctx, args[0])
				if errors.Is(err, mailtracker.ErrNotFound) {
					return fmt.Errorf("no sent message with hash %q", args[0])
				}
				if err != nil {
					return err
				}
				links, err := a.Tracker.LinksFor(ctx, msg.Hash)
				if err != nil {
					return err
				}

				if withContent {
					body, err := a.Tracker.Content(ctx, msg)
					if err != nil {
						return err
					}
					msg.Content = body
				} else {
					msg.Content = ""
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ShowResult{Message: msg, Links: links})
			})
		},
	}
	cmd.Flags().BoolVar(&withContent, "content", false, "include the stored message body")
	return cmd
}
