package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"mapsync/internal/cache"
	"mapsync/internal/overlay"
	"mapsync/pkg/routing"
)

// CacheFlusher drops cached routing results
type CacheFlusher interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

type RoutingHandler struct {
	run      Runner
	engine   *overlay.Engine
	sw       *routing.Switch
	backends map[string]routing.Service
	cache    CacheFlusher
	logger   *slog.Logger
}

func NewRoutingHandler(runner Runner, engine *overlay.Engine, sw *routing.Switch, backends map[string]routing.Service, flusher CacheFlusher, logger *slog.Logger) *RoutingHandler {
	return &RoutingHandler{
		run:      runner,
		engine:   engine,
		sw:       sw,
		backends: backends,
		cache:    flusher,
		logger:   logger.With("handler", "routing"),
	}
}

type RoutingResponse struct {
	Backend     string               `json:"backend"`
	TravelMode  routing.TravelMode   `json:"travelMode"`
	Modes       []routing.TravelMode `json:"modes"`
	Initialized bool                 `json:"initialized"`
	Available   []string             `json:"available"`
}

type RoutingRequest struct {
	Backend    string `json:"backend"`
	TravelMode string `json:"travelMode"`
	FlushCache bool   `json:"flushCache"`
}

func (h *RoutingHandler) response() RoutingResponse {
	svc := h.sw.RoutingService()
	available := make([]string, 0, len(h.backends))
	for name := range h.backends {
		available = append(available, name)
	}
	sort.Strings(available)
	return RoutingResponse{
		Backend:     svc.Name(),
		TravelMode:  h.sw.TravelMode(),
		Modes:       svc.AvailableTravelModes(),
		Initialized: svc.IsInitialized(),
		Available:   available,
	}
}

func (h *RoutingHandler) GetRouting(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.response())
}

// SetRouting selects another backend or travel mode and recomputes routes
func (h *RoutingHandler) SetRouting(w http.ResponseWriter, r *http.Request) {
	var req RoutingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	svc := h.sw.RoutingService()
	if req.Backend != "" {
		next, ok := h.backends[req.Backend]
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown routing backend: "+req.Backend)
			return
		}
		svc = next
	}
	mode := h.sw.TravelMode()
	if req.TravelMode != "" {
		m, err := routing.ParseTravelMode(req.TravelMode)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		mode = m
	}

	if req.FlushCache && h.cache != nil {
		deleted, err := h.cache.DeletePattern(r.Context(), cache.KeyRoutesFor(svc.Name()))
		if err != nil {
			h.logger.Warn("route cache flush failed", "backend", svc.Name(), "error", err)
		} else {
			h.logger.Info("route cache flushed", "backend", svc.Name(), "deleted", deleted)
		}
	}

	if !run(w, r, h.run, func() {
		h.sw.Set(svc, mode)
		h.engine.RoutingServiceChanged()
	}) {
		return
	}

	h.logger.Info("routing backend changed", "backend", svc.Name(), "travel_mode", h.sw.TravelMode())
	respondJSON(w, http.StatusOK, h.response())
}
