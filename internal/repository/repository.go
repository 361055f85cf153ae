// Package repository selects the mailtracker.Repository backend for a
// configured connection.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/repository/dynamo"
	"github.com/ignite/mail-tracker/internal/repository/memory"
	"github.com/ignite/mail-tracker/internal/repository/postgres"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// AWSLoader resolves AWS configuration for a region ("" for the default).
type AWSLoader func(ctx context.Context, region string) (aws.Config, error)

// Store is an opened backend. DB is set for the SQL drivers only.
type Store struct {
	Repo mailtracker.Repository
	DB   *sql.DB
}

// Close releases the database pool, if any.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Open connects the backend named by conn.Driver.
func Open(ctx context.Context, conn config.ConnectionConfig, loadAWS AWSLoader) (*Store, error) {
	switch conn.Driver {
	case "postgres", "pgx":
		if conn.DSN == "" {
			return nil, fmt.Errorf("%s connection requires a dsn", conn.Driver)
		}
		db, err := postgres.Open(ctx, conn.Driver, conn.DSN)
		if err != nil {
			return nil, err
		}
		return &Store{Repo: postgres.NewSentMessageRepo(db), DB: db}, nil
	case "dynamodb":
		if loadAWS == nil {
			return nil, fmt.Errorf("dynamodb connection requires AWS configuration")
		}
		awsCfg, err := loadAWS(ctx, conn.Region)
		if err != nil {
			return nil, err
		}
		return &Store{Repo: dynamo.NewRepo(dynamodb.NewFromConfig(awsCfg), conn.Table)}, nil
	case "memory":
		return &Store{Repo: memory.NewRepo()}, nil
	default:
		return nil, fmt.Errorf("unknown connection driver %q", conn.Driver)
	}
}
