package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/crossvenue/arbot/internal/domain"
)

const defaultTradeLimit = 50

// TradesHandler serves closed-trade history from the postgres mirror.
type TradesHandler struct {
	history domain.TradeHistoryStore
}

// NewTradesHandler creates a TradesHandler. history may be nil when the
// mirror is disabled; the endpoints then report 503.
func NewTradesHandler(history domain.TradeHistoryStore) *TradesHandler {
	return &TradesHandler{history: history}
}

// ListRecent returns the most recently closed trades. The optional
// ?limit query parameter caps the result set.
func (h *TradesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history store is disabled")
		return
	}

	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in 1..1000")
			return
		}
		limit = n
	}

	trades, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query trade history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(trades),
		"trades": trades,
	})
}

// SumProfit returns realized profit since an optional RFC 3339 ?since
// timestamp, defaulting to all time.
func (h *TradesHandler) SumProfit(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history store is disabled")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	total, err := h.history.SumProfit(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query trade history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":      since,
		"profit_usd": total,
	})
}
