package handler

import (
	"net/http"
	"time"

	"github.com/crossvenue/arbot/internal/coordinator"
	"github.com/crossvenue/arbot/internal/domain"
)

// TradingStatus is the pull accessor for the engine's running totals.
type TradingStatus interface {
	Status() domain.TradingState
}

// PositionLister exposes the currently open positions.
type PositionLister interface {
	Open() []domain.Position
}

// VenueStatsProvider exposes the coordinator's per-venue counters.
type VenueStatsProvider interface {
	Stats() map[domain.Venue]coordinator.VenueStats
}

// StatusHandler serves the read-only monitoring endpoints.
type StatusHandler struct {
	status    TradingStatus
	positions PositionLister
	venues    VenueStatsProvider
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status TradingStatus, positions PositionLister, venues VenueStatsProvider) *StatusHandler {
	return &StatusHandler{
		status:    status,
		positions: positions,
		venues:    venues,
		startedAt: time.Now(),
	}
}

// HealthCheck reports liveness and uptime.
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// GetStatus returns the trading totals.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// ListPositions returns the open positions, oldest first.
func (h *StatusHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.Open()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(positions),
		"positions": positions,
	})
}

// GetVenueStats returns the coordinator counters per venue.
func (h *StatusHandler) GetVenueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.venues.Stats())
}
