// Package browser implements a venue adapter that scrapes top-of-book
// prices from an exchange's web orderbook with a headless Chrome session.
// It exists for venues without a usable public API; it is far more
// expensive than a REST call, which is why browser venues are configured
// with long max-age and a concurrency budget of one.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/crossvenue/arbot/internal/domain"
)

// Scraper drives one headless Chrome tab pointed at a venue orderbook page
// and extracts the best bid and ask by selector. The chromedp contexts are
// created lazily on the first fetch and reused across fetches so the page
// stays warm.
type Scraper struct {
	venue   domain.Venue
	pageURL string
	bidSel  string
	askSel  string

	mu         sync.Mutex
	browserCtx context.Context
	cancels    []context.CancelFunc
}

// NewScraper creates a scraper for the given venue page. Selectors may be
// CSS or XPath (anything chromedp's BySearch accepts).
func NewScraper(venue domain.Venue, pageURL, bidSel, askSel string) *Scraper {
	return &Scraper{
		venue:   venue,
		pageURL: pageURL,
		bidSel:  bidSel,
		askSel:  askSel,
	}
}

// Venue implements venue.Adapter.
func (s *Scraper) Venue() domain.Venue { return s.venue }

// FetchQuote reads the current bid/ask text from the page. The first call
// boots Chrome and navigates; later calls only re-read the DOM.
func (s *Scraper) FetchQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	tab, err := s.tab()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("browser %s: start session: %w", s.venue, err)
	}

	// Bound the DOM read by the caller's deadline if it has one.
	timeout := 20 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()

	var bidText, askText string
	err = chromedp.Run(runCtx,
		chromedp.Text(s.bidSel, &bidText, chromedp.BySearch),
		chromedp.Text(s.askSel, &askText, chromedp.BySearch),
	)
	if err != nil {
		// A dead tab poisons every later fetch; drop the session so the
		// next call boots a fresh one.
		s.reset()
		return domain.PriceQuote{}, fmt.Errorf("browser %s: read orderbook: %w", s.venue, err)
	}

	bid, bidErr := parsePrice(bidText)
	ask, askErr := parsePrice(askText)
	if bidErr != nil && askErr != nil {
		return domain.PriceQuote{}, fmt.Errorf("browser %s: unparsable orderbook text %q / %q", s.venue, bidText, askText)
	}

	return domain.NewQuote(s.venue, symbol, bid, ask, time.Now().UTC()), nil
}

// tab returns the shared browser tab, booting Chrome and navigating to the
// orderbook page on first use.
func (s *Scraper) tab() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil && s.browserCtx.Err() == nil {
		return s.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	navCtx, cancelNav := context.WithTimeout(tabCtx, 45*time.Second)
	defer cancelNav()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(s.pageURL),
		chromedp.WaitVisible(s.bidSel, chromedp.BySearch),
	); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}

	s.browserCtx = tabCtx
	s.cancels = []context.CancelFunc{cancelTab, cancelAlloc}
	return tabCtx, nil
}

// reset tears down the current session; the next fetch starts a new one.
func (s *Scraper) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
	s.cancels = nil
	s.browserCtx = nil
}

// Close shuts down the Chrome session.
func (s *Scraper) Close() {
	s.reset()
}

// parsePrice turns scraped text like "0.001234" or "1,234.5" into a float.
func parsePrice(text string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty price text")
	}
	return strconv.ParseFloat(cleaned, 64)
}
