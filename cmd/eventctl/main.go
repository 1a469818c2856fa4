// Command eventctl is the operator CLI for reviewing ingested events.
//
//	eventctl list [-city Sydney] [-keyword jazz] [-status new,updated] [-public] [-page 1] [-limit 20]
//	eventctl stats
//	eventctl import -id <event-id> -actor <who> [-notes text]
//	eventctl errors [-all] [-limit 50]
//	eventctl resolve -id <error-id>
//	eventctl runs [-limit 20]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/database"
	"github.com/citypulse/citypulse/internal/logging"
	"github.com/citypulse/citypulse/internal/models"
	"github.com/citypulse/citypulse/internal/review"
)

const usage = `usage: eventctl <command> [flags]

commands:
  list      list events
  stats     show label totals and top categories/sources
  import    mark an event as imported
  errors    list recorded ingestion errors
  resolve   mark an ingestion error resolved
  runs      list recent ingestion runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	os.Exit(run(os.Args[1], os.Args[2:], os.Stdout))
}

func run(cmd string, args []string, out io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger, err := logging.New(config.LoggingConfig{Level: slog.LevelWarn, Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		return 1
	}
	defer db.Close()

	svc := review.NewService(database.NewPostgresEventStore(db, nil), logger, nil)
	errorsRepo := database.NewPostgresIngestionErrorRepository(db)
	runs := database.NewRunRepository(db)

	var result any
	switch cmd {
	case "list":
		q, err := parseListFlags(args)
		if err != nil {
			return usageError(err)
		}
		result, err = svc.List(ctx, q)
		if err != nil {
			return fail(err)
		}

	case "stats":
		result, err = svc.Stats(ctx)
		if err != nil {
			return fail(err)
		}

	case "import":
		fs := flag.NewFlagSet("import", flag.ContinueOnError)
		id := fs.String("id", "", "event id")
		actor := fs.String("actor", "", "who is importing the event")
		notes := fs.String("notes", "", "free-text import notes")
		if err := fs.Parse(args); err != nil {
			return usageError(err)
		}
		result, err = svc.MarkImported(ctx, *id, *actor, *notes)
		if err != nil {
			return fail(err)
		}

	case "errors":
		fs := flag.NewFlagSet("errors", flag.ContinueOnError)
		all := fs.Bool("all", false, "include resolved errors")
		limit := fs.Int("limit", 50, "maximum rows")
		if err := fs.Parse(args); err != nil {
			return usageError(err)
		}
		result, err = errorsRepo.List(ctx, *limit, !*all)
		if err != nil {
			return fail(err)
		}

	case "resolve":
		fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
		id := fs.String("id", "", "ingestion error id")
		if err := fs.Parse(args); err != nil {
			return usageError(err)
		}
		if err := errorsRepo.MarkResolved(ctx, *id); err != nil {
			return fail(err)
		}
		result = map[string]string{"resolved": *id}

	case "runs":
		fs := flag.NewFlagSet("runs", flag.ContinueOnError)
		limit := fs.Int("limit", 20, "maximum rows")
		if err := fs.Parse(args); err != nil {
			return usageError(err)
		}
		result, err = runs.Recent(ctx, *limit)
		if err != nil {
			return fail(err)
		}

	default:
		return usageError(fmt.Errorf("unknown command %q", cmd))
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fail(err)
	}
	return 0
}

func parseListFlags(args []string) (models.EventQuery, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	city := fs.String("city", "", "exact city")
	category := fs.String("category", "", "category substring")
	keyword := fs.String("keyword", "", "title/description/venue substring")
	statuses := fs.String("status", "", "comma-separated status labels (any of)")
	since := fs.String("since", "", "RFC 3339 lower bound on start time")
	until := fs.String("until", "", "RFC 3339 upper bound on start time")
	public := fs.Bool("public", false, "upcoming, active events only")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 20, "page size (max 100)")
	asc := fs.Bool("asc", false, "oldest first")
	if err := fs.Parse(args); err != nil {
		return models.EventQuery{}, err
	}

	q := models.EventQuery{
		City:     *city,
		Category: *category,
		Keyword:  *keyword,
		Public:   *public,
		Page:     *page,
		Limit:    *limit,
	}
	if *asc {
		q.SortOrder = models.SortOrderAsc
	}
	for _, s := range strings.Split(*statuses, ",") {
		if s = strings.TrimSpace(s); s != "" {
			q.Statuses = append(q.Statuses, models.StatusLabel(s))
		}
	}
	for _, b := range []struct {
		raw    string
		target **time.Time
	}{{*since, &q.Since}, {*until, &q.Until}} {
		if b.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, b.raw)
		if err != nil {
			return models.EventQuery{}, fmt.Errorf("invalid time %q: %w", b.raw, err)
		}
		*b.target = &t
	}
	return q, nil
}

func usageError(err error) int {
	fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
	return 2
}

func fail(err error) int {
	switch {
	case errors.Is(err, review.ErrNotFound):
		fmt.Fprintln(os.Stderr, "not found")
	case errors.Is(err, review.ErrAlreadyImported):
		fmt.Fprintln(os.Stderr, "event already imported")
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}
