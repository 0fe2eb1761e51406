// Package admin provides the HTTP admin endpoint for the module runtime.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handler serves the admin API: module status, rehash, health and metrics.
type Handler struct {
	mgr     *lifecycle.Manager
	holder  *config.Holder
	rehash  func() error
	logger  zerolog.Logger
	started time.Time
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Manager *lifecycle.Manager
	Holder  *config.Holder
	// Rehash runs the module protocol after a successful config reload.
	// Leave nil to rehash through Manager directly.
	Rehash func() error
	Logger zerolog.Logger
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	rehash := deps.Rehash
	if rehash == nil {
		rehash = func() error {
			return deps.Manager.Rehash(deps.Holder.Get())
		}
	}
	return &Handler{
		mgr:     deps.Manager,
		holder:  deps.Holder,
		rehash:  rehash,
		logger:  deps.Logger,
		started: time.Now(),
	}
}

// Router returns the admin API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)
	r.Get("/modules", h.Modules)
	r.Post("/rehash", h.Rehash)

	cfg := h.holder.Get()
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	return r
}

// HealthResponse is the /healthz response body.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StatusResponse is the /status response body.
type StatusResponse struct {
	Server        string             `json:"server"`
	Network       string             `json:"network,omitempty"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Rehashes      int                `json:"rehashes"`
	RehashErrors  int                `json:"rehash_errors"`
	Modules       []lifecycle.Status `json:"modules"`
}

// Status reports the runtime state: server identity, uptime, rehash
// counters and the module table.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	cfg := h.holder.Get()
	total, failed := h.mgr.Rehashes()

	writeJSON(w, http.StatusOK, StatusResponse{
		Server:        cfg.Server.Name,
		Network:       cfg.Server.Network,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Rehashes:      total,
		RehashErrors:  failed,
		Modules:       h.mgr.Modules(),
	})
}

// Modules reports the module table only.
func (h *Handler) Modules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modules": h.mgr.Modules(),
	})
}

// RehashResponse is the /rehash response body.
type RehashResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Rehash reloads the configuration from disk and runs a module rehash.
// A config that fails validation leaves the running config in place.
func (h *Handler) Rehash(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("rehash requested over admin API")

	if err := h.holder.Reload(); err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping current config")
		writeError(w, http.StatusUnprocessableEntity, "config_invalid", err.Error())
		return
	}

	if err := h.rehash(); err != nil {
		// Partial failure: surviving modules are running, failed ones
		// were rolled back.
		writeJSON(w, http.StatusOK, RehashResponse{Status: "partial", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RehashResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
