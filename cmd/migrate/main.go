package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/ignite/mail-tracker/internal/repository/postgres"
)

func main() {
	driver := flag.String("driver", "postgres", "database/sql driver: postgres or pgx")
	verifyOnly := flag.Bool("verify", false, "only check that the tracker schema is in place")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, *driver, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if !*verifyOnly {
		res, err := postgres.Migrate(ctx, db, os.DirFS(dir))
		if err != nil {
			log.Fatalf("migrate %s: %v", dir, err)
		}
		for _, f := range res.Applied {
			fmt.Printf("  %s ... OK\n", f)
		}
		for _, f := range res.Skipped {
			fmt.Printf("  %s ... already applied\n", f)
		}
		failed := make([]string, 0, len(res.Failed))
		for f := range res.Failed {
			failed = append(failed, f)
		}
		sort.Strings(failed)
		for _, f := range failed {
			fmt.Printf("  %s ... ERROR: %v\n", f, res.Failed[f])
		}
		log.Printf("Done: %d applied, %d skipped, %d errors", len(res.Applied), len(res.Skipped), len(failed))
		if len(failed) > 0 {
			os.Exit(1)
		}
	}

	if err := postgres.VerifySchema(ctx, db); err != nil {
		log.Fatalf("schema check: %v", err)
	}
	log.Println("Tracker schema ready")
}
