package ingestion

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/citypulse/citypulse/internal/config"
)

// RegistryDeps carries what adapters need to be constructed.
type RegistryDeps struct {
	HTTPClient *http.Client
	Renderer   Renderer
	Logger     *slog.Logger
	Location   *time.Location // fallback timezone for date parsing
}

// BuildSources turns the enabled catalog entries into pipeline sources, in
// catalog order.
func BuildSources(c *config.Catalog, deps RegistryDeps) ([]Source, error) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	enabled := c.Enabled()
	sources := make([]Source, 0, len(enabled))
	for _, src := range enabled {
		if len(src.URLs) == 0 {
			return nil, fmt.Errorf("source %s: no listing urls", src.Name)
		}

		var adapter Adapter
		switch src.Kind {
		case config.SourceKindStatic:
			adapter = NewStaticAdapter(src, deps.HTTPClient, deps.Logger)
		case config.SourceKindRendered:
			if deps.Renderer == nil {
				return nil, fmt.Errorf("source %s: rendered source needs a renderer", src.Name)
			}
			adapter = NewRenderedAdapter(src, deps.Renderer, deps.Logger)
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", src.Name, src.Kind)
		}

		sources = append(sources, Source{
			Adapter: adapter,
			Profile: ProfileFromConfig(src, deps.Location),
		})
	}
	return sources, nil
}
