package venue

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
)

func TestBuildConstructsEnabledVenues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := Build(map[string]config.VenueConfig{
		"mexc": {
			Enabled: true,
			Adapter: "mexc",
			BaseURL: "https://contract.mexc.com",
			WsURL:   "wss://contract.mexc.com/edge",
			Symbols: map[string]string{"DEBT_USDT": "DEBT_USDT"},
		},
		"lbank": {
			Enabled: true,
			Adapter: "lbank",
			BaseURL: "https://api.lbkex.com",
			Symbols: map[string]string{"DEBT_USDT": "debt_usdt"},
		},
		"binance_spot": {
			Enabled: false,
			Adapter: "binance",
		},
	}, logger)
	require.NoError(t, err)

	assert.Len(t, reg.Adapters, 2, "disabled venues are skipped")
	assert.Contains(t, reg.Adapters, domain.VenueMEXC)
	assert.Contains(t, reg.Adapters, domain.VenueLBank)
	assert.Equal(t, domain.VenueMEXC, reg.Adapters[domain.VenueMEXC].Venue())
	require.Len(t, reg.Feeds, 1, "ws_url attaches a push feed")
}

func TestBuildUnknownAdapter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Build(map[string]config.VenueConfig{
		"mystery": {Enabled: true, Adapter: "carrier-pigeon"},
	}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown adapter "carrier-pigeon"`)
}

func TestBuildRequiresAnEnabledVenue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Build(map[string]config.VenueConfig{
		"mexc": {Enabled: false, Adapter: "mexc"},
	}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled venues")
}
