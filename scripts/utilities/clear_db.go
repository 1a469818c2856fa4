//go:build ignore

// clear_db empties the ingestion tables so the next harvester run starts from
// a blank store. It reads the same environment as the harvester and refuses
// to run without -yes.
//
//	go run scripts/utilities/clear_db.go -yes
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/database"
)

var ingestionTables = []string{"events", "ingestion_errors", "ingestion_runs"}

func main() {
	confirm := flag.Bool("yes", false, "confirm that every event, error and run record may be deleted")
	flag.Parse()

	if err := run(*confirm); err != nil {
		fmt.Fprintf(os.Stderr, "clear_db: %v\n", err)
		os.Exit(1)
	}
}

func run(confirm bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range ingestionTables {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		fmt.Printf("%-18s %d rows\n", table, n)
	}

	if !confirm {
		fmt.Println("nothing deleted; rerun with -yes to truncate")
		return nil
	}

	// Single statement: the tables are emptied together.
	if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(ingestionTables, ", ")); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	fmt.Println("ingestion tables truncated")
	return nil
}
