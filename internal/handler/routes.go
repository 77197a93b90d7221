package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mapsync/internal/domain"
	"mapsync/internal/overlay"
	"mapsync/internal/routestore"
)

// RouteStore persists named position lists
type RouteStore interface {
	Save(ctx context.Context, name string, c domain.Characteristics, positions []domain.Position) error
	Load(ctx context.Context, name string) (*routestore.Route, error)
	List(ctx context.Context) ([]routestore.Summary, error)
	Delete(ctx context.Context, name string) error
}

type RoutesHandler struct {
	run    Runner
	engine *overlay.Engine
	store  RouteStore
	logger *slog.Logger
}

func NewRoutesHandler(runner Runner, engine *overlay.Engine, store RouteStore, logger *slog.Logger) *RoutesHandler {
	return &RoutesHandler{
		run:    runner,
		engine: engine,
		store:  store,
		logger: logger.With("handler", "routes"),
	}
}

type RoutesResponse struct {
	Routes     []routestore.Summary `json:"routes"`
	Count      int                  `json:"count"`
	ServerTime time.Time            `json:"serverTime"`
}

type SavedRouteResponse struct {
	Name            string                 `json:"name"`
	Characteristics domain.Characteristics `json:"characteristics"`
	Positions       int                    `json:"positions"`
}

func routeName(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("name"))
}

func (h *RoutesHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing routes failed", "error", err)
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:     routes,
		Count:      len(routes),
		ServerTime: time.Now(),
	})
}

// SaveRoute stores the current list under the given name
func (h *RoutesHandler) SaveRoute(w http.ResponseWriter, r *http.Request) {
	name := routeName(r)
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing route name")
		return
	}

	var ps []domain.Position
	var c domain.Characteristics
	if !run(w, r, h.run, func() {
		ps = h.engine.List.Positions()
		c = h.engine.Characteristics()
	}) {
		return
	}

	if err := h.store.Save(r.Context(), name, c, ps); err != nil {
		h.logger.Error("saving route failed", "name", name, "error", err)
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, SavedRouteResponse{Name: name, Characteristics: c, Positions: len(ps)})
}

// LoadRoute replaces the current list with a stored route
func (h *RoutesHandler) LoadRoute(w http.ResponseWriter, r *http.Request) {
	name := routeName(r)
	if name == "" {
		respondError(w, http.StatusBadRequest, "missing route name")
		return
	}

	route, err := h.store.Load(r.Context(), name)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	ps := make([]*domain.Position, len(route.Positions))
	for i := range route.Positions {
		ps[i] = &route.Positions[i]
	}

	var opErr error
	if !run(w, r, h.run, func() {
		h.engine.List.Replace(ps)
		opErr = h.engine.SetCharacteristics(route.Characteristics)
	}) {
		return
	}
	if opErr != nil {
		respondEngineError(w, opErr)
		return
	}

	h.logger.Info("route loaded", "name", name, "positions", len(ps), "characteristics", route.Characteristics)
	respondJSON(w, http.StatusOK, SavedRouteResponse{Name: name, Characteristics: route.Characteristics, Positions: len(ps)})
}

func (h *RoutesHandler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), routeName(r)); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
