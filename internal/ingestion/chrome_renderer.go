package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeRenderer renders pages in a local headless Chromium via chromedp.
// Each Render call starts and tears down its own browser.
type ChromeRenderer struct {
	headless  bool
	userAgent string
	logger    *slog.Logger
}

// NewChromeRenderer creates a renderer.
func NewChromeRenderer(headless bool, logger *slog.Logger) *ChromeRenderer {
	return &ChromeRenderer{
		headless:  headless,
		userAgent: defaultUserAgents[0],
		logger:    logger,
	}
}

// Render navigates to req.URL, waits up to req.WaitTimeout for the card
// selector and extracts the cards in the page. A wait timeout is not an
// error: the page is extracted as it is.
func (r *ChromeRenderer) Render(ctx context.Context, req RenderRequest) ([]RenderedCard, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.userAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(req.URL)); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	if req.WaitSelector != "" {
		wait := req.WaitTimeout
		if wait <= 0 {
			wait = 10 * time.Second
		}
		waitCtx, cancelWait := context.WithTimeout(browserCtx, wait)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(req.WaitSelector, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("wait for cards: %w", err)
			}
			r.logger.Warn("no listing cards appeared before timeout", "url", req.URL, "selector", req.WaitSelector)
		}
	}

	script, err := extractionScript(req)
	if err != nil {
		return nil, err
	}

	var cards []RenderedCard
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(script, &cards)); err != nil {
		return nil, fmt.Errorf("extract cards: %w", err)
	}
	return cards, nil
}

const extractionTemplate = `(() => {
  const sel = %s;
  const text = (card, s) => {
    if (!s) return '';
    const el = card.querySelector(s);
    return el ? el.textContent.trim() : '';
  };
  const out = [];
  document.querySelectorAll(sel.card).forEach((card) => {
    try {
      const timeEl = card.querySelector('time[datetime]');
      const dateEl = sel.date ? card.querySelector(sel.date) : null;
      const linkEl = card.matches(sel.link) ? card : card.querySelector(sel.link);
      const imgEl = sel.image ? card.querySelector(sel.image) : null;
      out.push({
        title: text(card, sel.title),
        date_text: (timeEl && timeEl.getAttribute('datetime')) ||
          (dateEl && (dateEl.getAttribute('datetime') || dateEl.textContent.trim())) || '',
        venue: text(card, sel.venue),
        link: linkEl ? (linkEl.href || linkEl.getAttribute('href') || '') : '',
        image_url: imgEl ? (imgEl.src || imgEl.getAttribute('data-src') || '') : '',
        description: text(card, sel.description),
      });
    } catch (e) {
      out.push({ error: String(e) });
    }
  });
  return out;
})()`

func extractionScript(req RenderRequest) (string, error) {
	sel, err := json.Marshal(map[string]string{
		"card":        req.Selectors.Card,
		"title":       req.Selectors.Title,
		"date":        req.Selectors.Date,
		"venue":       req.Selectors.Venue,
		"link":        req.Selectors.Link,
		"image":       req.Selectors.Image,
		"description": req.Selectors.Description,
	})
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	return fmt.Sprintf(extractionTemplate, sel), nil
}

var _ Renderer = (*ChromeRenderer)(nil)
