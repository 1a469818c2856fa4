package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SourceKind selects the adapter variant used for a source.
type SourceKind string

const (
	SourceKindStatic   SourceKind = "static"   // plain HTTP fetch + markup parsing
	SourceKindRendered SourceKind = "rendered" // headless browser rendering
)

// Selectors are CSS selector lists used to pull fields out of one listing card.
// Each list may contain several comma-separated alternatives; the first
// matching element wins.
type Selectors struct {
	Card        string `yaml:"card" validate:"required"`
	Title       string `yaml:"title" validate:"required"`
	Date        string `yaml:"date"`
	Venue       string `yaml:"venue"`
	Link        string `yaml:"link" validate:"required"`
	Image       string `yaml:"image"`
	Description string `yaml:"description"`
}

// SourceConfig describes one external listing site.
type SourceConfig struct {
	Name string     `yaml:"name" validate:"required,max=64"`
	Site string     `yaml:"site" validate:"required"` // label stored as SourceSite
	Kind SourceKind `yaml:"kind" validate:"required,oneof=static rendered"`

	URLs    []string `yaml:"urls" validate:"required,min=1,dive,url"`
	BaseURL string   `yaml:"base_url" validate:"omitempty,url"`

	City     string   `yaml:"city"`
	Category string   `yaml:"category"`
	Tags     []string `yaml:"tags"`
	Timezone string   `yaml:"timezone"`

	VenuePlaceholder       string `yaml:"venue_placeholder"`
	DescriptionPlaceholder string `yaml:"description_placeholder"` // %s is replaced with the title

	Selectors Selectors `yaml:"selectors"`

	// WaitSelector is awaited before extraction on rendered sources; defaults
	// to Selectors.Card.
	WaitSelector string `yaml:"wait_selector"`

	RequestsPerMinute int  `yaml:"requests_per_minute" validate:"gte=0,lte=600"`
	Disabled          bool `yaml:"disabled"`
}

// Location resolves the source timezone, falling back to fallback.
func (s SourceConfig) Location(fallback *time.Location) *time.Location {
	if s.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// Catalog is the top-level YAML document.
type Catalog struct {
	Sources []SourceConfig `yaml:"sources" validate:"required,min=1,dive"`
}

// Enabled returns the sources that are not disabled, in file order.
func (c *Catalog) Enabled() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Normalize fills defaults that depend on other fields.
func (c *Catalog) Normalize() {
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.City == "" {
			s.City = "Sydney"
		}
		if s.Category == "" {
			s.Category = "General"
		}
		if s.VenuePlaceholder == "" {
			s.VenuePlaceholder = "Venue TBA"
		}
		if s.DescriptionPlaceholder == "" {
			s.DescriptionPlaceholder = "Event: %s"
		}
		if s.WaitSelector == "" {
			s.WaitSelector = s.Selectors.Card
		}
		if s.Tags == nil {
			s.Tags = []string{}
		}
	}
}

// Validate checks struct constraints and that source names are unique.
func (c *Catalog) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid source catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.Name] {
			return fmt.Errorf("invalid source catalog: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("invalid source catalog: source %q: %w", s.Name, err)
			}
		}
	}
	return nil
}

// LoadCatalog reads a YAML source catalog. An empty path yields the built-in
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		c := DefaultCatalog()
		c.Normalize()
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, errors.New("source catalog is empty")
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse source catalog: %w", err)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultCatalog returns the three Sydney listing sites the service was
// built around.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Sources: []SourceConfig{
			{
				Name:                   "eventbrite",
				Site:                   "Eventbrite",
				Kind:                   SourceKindStatic,
				URLs:                   []string{"https://www.eventbrite.com.au/d/australia--sydney/events/"},
				BaseURL:                "https://www.eventbrite.com.au",
				Category:               "General",
				Tags:                   []string{"eventbrite"},
				Timezone:               "Australia/Sydney",
				VenuePlaceholder:       "Venue TBA",
				DescriptionPlaceholder: "Event details available on Eventbrite",
				Selectors: Selectors{
					Card:        `.search-event-card, [data-testid="search-event-card"], .discover-search-desktop-card`,
					Title:       `h3, h2, [data-testid="event-title"], .event-card__title`,
					Date:        `.event-card__date, [data-testid="event-date"], time`,
					Venue:       `.event-card__venue, [data-testid="event-location"]`,
					Link:        "a",
					Image:       "img",
					Description: ".event-card__description, p",
				},
				RequestsPerMinute: 20,
			},
			{
				Name:                   "sydneycom",
				Site:                   "Sydney.com",
				Kind:                   SourceKindStatic,
				URLs:                   []string{"https://www.sydney.com/events/search"},
				BaseURL:                "https://www.sydney.com",
				Category:               "Tourism & Events",
				Tags:                   []string{"sydney.com", "official"},
				Timezone:               "Australia/Sydney",
				VenuePlaceholder:       "Sydney, Australia",
				DescriptionPlaceholder: "Discover this event in Sydney",
				Selectors: Selectors{
					Card:        `.event-item, .event-card, article[class*="event"]`,
					Title:       `h2, h3, .event-title, [class*="title"]`,
					Date:        `.event-date, time, [class*="date"]`,
					Venue:       `.event-venue, .venue, [class*="venue"]`,
					Link:        "a",
					Image:       "img",
					Description: `.event-description, p, [class*="description"]`,
				},
				RequestsPerMinute: 20,
			},
			{
				Name:                   "whatson",
				Site:                   "What's On Sydney",
				Kind:                   SourceKindRendered,
				URLs:                   []string{"https://whatson.cityofsydney.nsw.gov.au/events"},
				BaseURL:                "https://whatson.cityofsydney.nsw.gov.au",
				Category:               "City Events",
				Tags:                   []string{"city-of-sydney", "whatson"},
				Timezone:               "Australia/Sydney",
				VenuePlaceholder:       "City of Sydney",
				DescriptionPlaceholder: "Event by City of Sydney: %s",
				Selectors: Selectors{
					Card:        `.event-card, .event-item, article[class*="event"]`,
					Title:       `h2, h3, .title, [class*="title"]`,
					Date:        `time, .date, [class*="date"]`,
					Venue:       `.venue, [class*="venue"], [class*="location"]`,
					Link:        "a",
					Image:       "img",
					Description: `p, .description, [class*="description"]`,
				},
				WaitSelector: ".event-card, .event-item, article",
			},
		},
	}
}
