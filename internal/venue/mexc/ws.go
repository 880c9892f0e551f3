package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossvenue/arbot/internal/domain"
)

const (
	wsPingInterval  = 15 * time.Second
	wsReadDeadline  = 60 * time.Second
	wsReconnectWait = 2 * time.Second
)

// WSFeed subscribes to the MEXC contract push ticker over websocket and
// stores every update into the quote sink. Push updates land in the cache at
// zero coordinator cost, so the REST adapter only fires when the stream has
// gone quiet past max-age.
type WSFeed struct {
	venue   domain.Venue
	wsURL   string
	symbols map[string]string // engine symbol -> contract symbol
	logger  *slog.Logger
}

// NewWSFeed creates a push feed for the given symbol set.
func NewWSFeed(venue domain.Venue, wsURL string, symbols map[string]string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		venue:   venue,
		wsURL:   wsURL,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "mexc_ws_feed")),
	}
}

// Run connects, subscribes, and pumps ticker pushes into the sink until ctx
// is cancelled. Reconnects with a fixed backoff on disconnect.
func (f *WSFeed) Run(ctx context.Context, sink domain.QuoteSink) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := f.runConnection(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("mexc ws disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectWait):
		}
	}
}

// tickerPush is the payload of a push.ticker message.
type tickerPush struct {
	Symbol string  `json:"symbol"`
	Bid1   float64 `json:"bid1"`
	Ask1   float64 `json:"ask1"`
}

func (f *WSFeed) runConnection(ctx context.Context, sink domain.QuoteSink) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("mexc ws: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	// Reverse mapping for inbound messages.
	engine := make(map[string]string, len(f.symbols))
	for sym, native := range f.symbols {
		engine[native] = sym
		sub := map[string]any{
			"method": "sub.ticker",
			"param":  map[string]string{"symbol": native},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("mexc ws: subscribe %s: %w", native, err)
		}
	}
	f.logger.Info("mexc ws subscribed", slog.Int("symbols", len(f.symbols)))

	// Keepalive pings; MEXC drops quiet connections. The ping loop lives
	// on a per-connection context so it dies with the connection instead
	// of piling up across reconnects.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-t.C:
				_ = conn.WriteJSON(map[string]string{"method": "ping"})
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			return fmt.Errorf("mexc ws: set deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("mexc ws: read: %w", err)
		}

		var msg struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
			Ts      int64           `json:"ts"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("mexc ws: unparsable message", slog.String("error", err.Error()))
			continue
		}
		if msg.Channel != "push.ticker" {
			continue
		}

		var tick tickerPush
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			continue
		}
		sym, ok := engine[tick.Symbol]
		if !ok {
			continue
		}
		ts := time.UnixMilli(msg.Ts)
		if msg.Ts == 0 {
			ts = time.Now().UTC()
		}
		sink.Store(domain.NewQuote(f.venue, sym, tick.Bid1, tick.Ask1, ts))

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
