// Package cli implements trackerctl, the operator command line for the
// mail tracker.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-tracker/internal/app"
	"github.com/ignite/mail-tracker/internal/config"
)

// Opener builds the application for a config file path.
type Opener func(ctx context.Context, configPath string) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	open       Opener
}

// DefaultOpener loads configuration the way the HTTP service does.
func DefaultOpener(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// NewRootCommand creates the root command. A nil opener uses DefaultOpener.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = DefaultOpener
	}
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "trackerctl",
		Short:         "Operate the mail tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml (defaults plus environment when empty)")

	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewCreateTableCommand(opts))
	return cmd
}

// withApp opens the application for the duration of fn.
func (o *RootOptions) withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := o.open(ctx, o.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
