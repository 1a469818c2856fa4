//go:build ignore

// check_sources scrapes every enabled source in the catalog once and prints
// what each adapter extracted. Nothing is written to the database.
//
//	SOURCES_FILE=sources.yaml go run scripts/utilities/check_sources.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/logging"
)

func main() {
	catalog, err := config.LoadCatalog(os.Getenv("SOURCES_FILE"))
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}

	logger := logging.Discard()
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		loc = time.UTC
	}

	sources, err := ingestion.BuildSources(catalog, ingestion.RegistryDeps{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Renderer:   ingestion.NewChromeRenderer(true, logger),
		Logger:     logger,
		Location:   loc,
	})
	if err != nil {
		log.Fatalf("failed to build sources: %v", err)
	}

	for _, src := range sources {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		result, err := src.Adapter.Scrape(ctx)
		cancel()

		fmt.Printf("\n%s (%s)\n", src.Adapter.Name(), src.Profile.Site)
		if err != nil {
			fmt.Printf("  error: %v\n", err)
		}
		fmt.Printf("  candidates: %d, rejected: %d, took %s\n",
			len(result.Candidates), len(result.Rejected), result.Duration.Round(time.Millisecond))

		for i, c := range result.Candidates {
			if i == 5 {
				fmt.Printf("  ... %d more\n", len(result.Candidates)-5)
				break
			}
			fmt.Printf("  - %q | %q | %s\n", c.Title, c.DateText, c.Link)
		}
	}
}
