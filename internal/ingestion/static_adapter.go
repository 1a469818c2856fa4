package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/models"
)

const maxListingBytes = 8 << 20

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// StaticAdapter scrapes listing pages served as plain markup.
type StaticAdapter struct {
	source     config.SourceConfig
	client     *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	userAgents []string
	uaNext     atomic.Uint64
	logger     *slog.Logger
}

// NewStaticAdapter creates an adapter for one static source. A nil client
// uses http.DefaultClient.
func NewStaticAdapter(src config.SourceConfig, client *http.Client, logger *slog.Logger) *StaticAdapter {
	if client == nil {
		client = http.DefaultClient
	}

	limit := rate.Inf
	if src.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(src.RequestsPerMinute))
	}

	return &StaticAdapter{
		source:     src,
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		retry:      DefaultRetryPolicy(),
		userAgents: defaultUserAgents,
		logger:     logger.With("source", src.Name),
	}
}

// WithRetryPolicy overrides the fetch retry policy.
func (a *StaticAdapter) WithRetryPolicy(p RetryPolicy) *StaticAdapter {
	a.retry = p
	return a
}

// Name returns the source name.
func (a *StaticAdapter) Name() string {
	return a.source.Name
}

// Scrape fetches every configured listing URL in order. A fetch failure stops
// the scrape and returns the candidates of the pages already read.
func (a *StaticAdapter) Scrape(ctx context.Context) (ScrapeResult, error) {
	start := time.Now()
	var result ScrapeResult

	for _, pageURL := range a.source.URLs {
		body, err := a.fetch(ctx, pageURL)
		if err != nil {
			result.FetchedAt = time.Now()
			result.Duration = time.Since(start)
			return result, &TransientFetchError{Source: a.source.Name, URL: pageURL, Err: err}
		}

		cands, rejected, err := a.extract(body, pageURL)
		body.Close()
		if err != nil {
			result.Rejected = append(result.Rejected, &ExtractionError{Source: a.source.Name, Link: pageURL, Reason: err.Error()})
			continue
		}

		a.logger.Debug("listing page parsed", "url", pageURL, "cards", len(cands), "rejected", len(rejected))
		result.Candidates = append(result.Candidates, cands...)
		result.Rejected = append(result.Rejected, rejected...)
	}

	result.FetchedAt = time.Now()
	result.Duration = time.Since(start)
	return result, nil
}

func (a *StaticAdapter) fetch(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := Retry(ctx, a.retry, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", a.nextUserAgent())
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-AU,en;q=0.9")

		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return NewRetryableError(fmt.Errorf("request failed: %w", err))
		}

		if err := classifyStatus(resp); err != nil {
			resp.Body.Close()
			return err
		}

		body = struct {
			io.Reader
			io.Closer
		}{io.LimitReader(resp.Body, maxListingBytes), resp.Body}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (a *StaticAdapter) nextUserAgent() string {
	n := a.uaNext.Add(1) - 1
	return a.userAgents[n%uint64(len(a.userAgents))]
}

func (a *StaticAdapter) extract(body io.Reader, pageURL string) ([]models.RawCandidate, []error, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse listing: %w", err)
	}

	base := a.baseURL(pageURL)
	var (
		cands    []models.RawCandidate
		rejected []error
	)

	doc.Find(a.source.Selectors.Card).Each(func(i int, card *goquery.Selection) {
		cand, err := a.extractCard(card, base)
		if err != nil {
			rejected = append(rejected, err)
			return
		}
		cands = append(cands, cand)
	})

	return cands, rejected, nil
}

func (a *StaticAdapter) extractCard(card *goquery.Selection, base *url.URL) (cand models.RawCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{Source: a.source.Name, Reason: fmt.Sprintf("card panic: %v", r)}
		}
	}()

	sel := a.source.Selectors
	title := firstText(card, sel.Title)
	link := resolveURL(base, firstAttr(card, sel.Link, "href"))

	if title == "" {
		return cand, &ExtractionError{Source: a.source.Name, Link: link, Reason: "card has no title"}
	}
	if link == "" {
		return cand, &ExtractionError{Source: a.source.Name, Reason: "card has no link: " + title}
	}

	image := firstAttr(card, sel.Image, "src")
	if image == "" {
		image = firstAttr(card, sel.Image, "data-src")
	}

	return models.RawCandidate{
		Source:      a.source.Name,
		Title:       title,
		DateText:    dateText(card, sel.Date),
		Venue:       firstText(card, sel.Venue),
		Link:        link,
		ImageURL:    resolveURL(base, image),
		Description: firstText(card, sel.Description),
	}, nil
}

func (a *StaticAdapter) baseURL(pageURL string) *url.URL {
	if a.source.BaseURL != "" {
		if u, err := url.Parse(a.source.BaseURL); err == nil {
			return u
		}
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	return u
}

// dateText prefers a machine-readable datetime attribute over visible text.
func dateText(card *goquery.Selection, selector string) string {
	if v, ok := card.Find("time[datetime]").First().Attr("datetime"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if selector == "" {
		return ""
	}
	el := card.Find(selector).First()
	if v, ok := el.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return collapseSpace(el.Text())
}

func firstText(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapseSpace(card.Find(selector).First().Text())
}

// firstAttr reads attr from the first match. The card itself is considered
// when it matches selector, since some listings wrap the card in the link.
func firstAttr(card *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	if card.Is(selector) {
		if v, ok := card.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	v, _ := card.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() || base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

var _ Adapter = (*StaticAdapter)(nil)
