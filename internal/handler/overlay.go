package handler

import (
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapsync/internal/domain"
	"mapsync/internal/overlay"
)

// FeatureSource renders the current overlay as GeoJSON
type FeatureSource interface {
	FeatureCollection() *geojson.FeatureCollection
}

type OverlayHandler struct {
	run     Runner
	engine  *overlay.Engine
	surface FeatureSource
}

func NewOverlayHandler(runner Runner, engine *overlay.Engine, surface FeatureSource) *OverlayHandler {
	return &OverlayHandler{run: runner, engine: engine, surface: surface}
}

type BoundsResponse struct {
	Empty bool      `json:"empty"`
	Min   orb.Point `json:"min"`
	Max   orb.Point `json:"max"`
}

type MetricsResponse struct {
	Characteristics domain.Characteristics `json:"characteristics"`
	Metrics         *domain.Metrics        `json:"metrics,omitempty"`
	States          map[string]int         `json:"states,omitempty"`
}

func (h *OverlayHandler) GetOverlay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/geo+json")
	data, err := h.surface.FeatureCollection().MarshalJSON()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetBounds returns the box around all positions with coordinates
func (h *OverlayHandler) GetBounds(w http.ResponseWriter, r *http.Request) {
	b, ok := h.engine.List.Bound()
	if !ok {
		respondJSON(w, http.StatusOK, BoundsResponse{Empty: true})
		return
	}
	respondJSON(w, http.StatusOK, BoundsResponse{Min: b.Min, Max: b.Max})
}

// GetMetrics reports route totals; only Route mode has metrics
func (h *OverlayHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	var resp MetricsResponse
	if !run(w, r, h.run, func() {
		resp.Characteristics = h.engine.Characteristics()
		if resp.Characteristics == domain.Route {
			resp.States = h.engine.Route.States()
		}
	}) {
		return
	}
	if resp.Characteristics == domain.Route {
		m := h.engine.Route.Metrics()
		resp.Metrics = &m
	}
	respondJSON(w, http.StatusOK, resp)
}
