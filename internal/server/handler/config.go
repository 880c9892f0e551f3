package handler

import (
	"encoding/json"
	"net/http"

	"github.com/crossvenue/arbot/internal/config"
)

// EngineConfigUpdater validates and applies decision-parameter updates
// between ticks.
type EngineConfigUpdater interface {
	UpdateEngineConfig(cfg config.EngineConfig) error
}

// ConfigHandler serves the runtime configuration surface. Only the
// engine section is updatable at runtime; venue and infrastructure
// changes require a restart.
type ConfigHandler struct {
	current func() config.EngineConfig
	updater EngineConfigUpdater
}

// NewConfigHandler creates a ConfigHandler. current returns the active
// engine section.
func NewConfigHandler(current func() config.EngineConfig, updater EngineConfigUpdater) *ConfigHandler {
	return &ConfigHandler{current: current, updater: updater}
}

// GetConfig returns the active engine parameters.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

// UpdateConfig applies a full replacement engine section. The body must
// be a complete engine config; invalid updates are rejected wholesale
// and the running parameters stay untouched.
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.EngineConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid engine config: "+err.Error())
		return
	}
	if err := h.updater.UpdateEngineConfig(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
