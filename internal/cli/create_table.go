package cli

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/pkg/awsconfig"
	"github.com/ignite/mail-tracker/internal/repository/dynamo"
)

// NewCreateTableCommand creates the create-table command for dynamodb
// connections. PostgreSQL schemas are applied with the migrate binary.
func NewCreateTableCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-table",
		Short: "Create the DynamoDB table for the configured connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv(opts.ConfigPath)
			if err != nil {
				return err
			}
			conn, err := cfg.Connection()
			if err != nil {
				return err
			}
			if conn.Driver != "dynamodb" {
				return fmt.Errorf("connection %q uses %s; run migrate for SQL stores", cfg.Tracker.Connection, conn.Driver)
			}

			region := conn.Region
			if region == "" {
				region = cfg.AWS.Region
			}
			awsCfg, err := awsconfig.Load(cmd.Context(), awsconfig.Options{
				Region:          region,
				Profile:         cfg.AWS.Profile,
				AccessKeyID:     cfg.AWS.AccessKeyID,
				SecretAccessKey: cfg.AWS.SecretAccessKey,
			})
			if err != nil {
				return err
			}
			if err := dynamo.CreateTable(cmd.Context(), dynamodb.NewFromConfig(awsCfg), conn.Table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s ready\n", conn.Table)
			return nil
		},
	}
}
