package venue

import (
	"fmt"
	"log/slog"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/venue/binance"
	"github.com/crossvenue/arbot/internal/venue/browser"
	"github.com/crossvenue/arbot/internal/venue/lbank"
	"github.com/crossvenue/arbot/internal/venue/mexc"
)

// Registry holds the constructed adapters and push feeds for every enabled
// venue.
type Registry struct {
	Adapters map[domain.Venue]Adapter
	Feeds    []Feed
	closers  []func()
}

// Build constructs adapters for every enabled venue in cfg. The venue name
// in the config map becomes the domain.Venue identifier, so two browser
// venues ("mexc_web", "lbank_web") can run alongside the API venues.
func Build(venues map[string]config.VenueConfig, logger *slog.Logger) (*Registry, error) {
	reg := &Registry{Adapters: make(map[domain.Venue]Adapter)}

	for name, vc := range venues {
		if !vc.Enabled {
			continue
		}
		id := domain.Venue(name)

		switch vc.Adapter {
		case "mexc":
			client := mexc.NewClient(id, vc.BaseURL, vc.Symbols)
			reg.Adapters[id] = client
			if vc.WsURL != "" {
				reg.Feeds = append(reg.Feeds, mexc.NewWSFeed(id, vc.WsURL, vc.Symbols, logger))
			}
		case "lbank":
			reg.Adapters[id] = lbank.NewClient(id, vc.BaseURL, vc.Symbols)
		case "binance":
			reg.Adapters[id] = binance.NewClient(id, vc.Symbols)
		case "browser":
			scraper := browser.NewScraper(id, vc.PageURL, vc.BidSelector, vc.AskSelector)
			reg.Adapters[id] = scraper
			reg.closers = append(reg.closers, scraper.Close)
		default:
			return nil, fmt.Errorf("venue: unknown adapter %q for venue %q", vc.Adapter, name)
		}
	}

	if len(reg.Adapters) == 0 {
		return nil, fmt.Errorf("venue: no enabled venues configured")
	}
	return reg, nil
}

// Close releases adapter resources (browser sessions).
func (r *Registry) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
