package handler

import (
	"log/slog"
	"net/http"
	"time"

	"mapsync/internal/domain"
	"mapsync/internal/overlay"
	"mapsync/internal/positions"
)

// CharacteristicsListener is told about accepted characteristics switches
type CharacteristicsListener interface {
	CharacteristicsChanged(c domain.Characteristics)
}

type PositionsHandler struct {
	run          Runner
	engine       *overlay.Engine
	listener     CharacteristicsListener
	searchRadius float64
	logger       *slog.Logger
}

func NewPositionsHandler(runner Runner, engine *overlay.Engine, listener CharacteristicsListener, searchRadius float64, logger *slog.Logger) *PositionsHandler {
	return &PositionsHandler{
		run:          runner,
		engine:       engine,
		listener:     listener,
		searchRadius: searchRadius,
		logger:       logger.With("handler", "positions"),
	}
}

type PositionEntry struct {
	Row      int  `json:"row"`
	Selected bool `json:"selected"`
	domain.Position
}

type PositionsResponse struct {
	Positions       []PositionEntry        `json:"positions"`
	Count           int                    `json:"count"`
	RouteID         string                 `json:"routeId"`
	Characteristics domain.Characteristics `json:"characteristics"`
	ServerTime      time.Time              `json:"serverTime"`
}

type PositionRequest struct {
	Row         *int       `json:"row,omitempty"`
	Longitude   *float64   `json:"longitude"`
	Latitude    *float64   `json:"latitude"`
	Elevation   *float64   `json:"elevation"`
	Description string     `json:"description"`
	Time        *time.Time `json:"time"`
}

type ReplaceRequest struct {
	Positions []PositionRequest `json:"positions"`
}

type EditRequest struct {
	Description *string    `json:"description"`
	Time        *time.Time `json:"time"`
	Longitude   *float64   `json:"longitude"`
	Latitude    *float64   `json:"latitude"`
	Elevation   *float64   `json:"elevation"`
}

type RowResponse struct {
	Row int `json:"row"`
}

type SelectionRequest struct {
	Rows    []int `json:"rows"`
	Replace bool  `json:"replace"`
}

type SelectionResponse struct {
	Rows []int `json:"rows"`
}

type CharacteristicsRequest struct {
	Characteristics string `json:"characteristics"`
}

type CharacteristicsResponse struct {
	Characteristics domain.Characteristics `json:"characteristics"`
}

func (req PositionRequest) position() (*domain.Position, error) {
	if err := validateCoordinates(req.Longitude, req.Latitude); err != nil {
		return nil, err
	}
	p := &domain.Position{
		Longitude:   req.Longitude,
		Latitude:    req.Latitude,
		Elevation:   req.Elevation,
		Description: req.Description,
	}
	if req.Time != nil {
		p.Time = *req.Time
	}
	return p, nil
}

func (h *PositionsHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var resp PositionsResponse
	ok := run(w, r, h.run, func() {
		selected := make(map[int]bool)
		for _, row := range h.engine.Selection.SelectedRows() {
			selected[row] = true
		}
		ps := h.engine.List.Positions()
		resp.Positions = make([]PositionEntry, len(ps))
		for i, p := range ps {
			resp.Positions[i] = PositionEntry{Row: i, Selected: selected[i], Position: p}
		}
		resp.Count = len(ps)
		resp.RouteID = h.engine.List.RouteID()
		resp.Characteristics = h.engine.Characteristics()
	})
	if !ok {
		return
	}
	resp.ServerTime = time.Now()
	respondJSON(w, http.StatusOK, resp)
}

// AddPosition inserts at the given row, or after the last selected position
func (h *PositionsHandler) AddPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.position()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	row := -1
	var opErr error
	ok := run(w, r, h.run, func() {
		if req.Row == nil {
			row, opErr = h.engine.InsertAfterSelection(p)
			return
		}
		row, opErr = *req.Row, h.engine.List.Insert(*req.Row, p)
	})
	if !ok {
		return
	}
	if opErr != nil {
		respondEngineError(w, opErr)
		return
	}

	h.logger.Debug("position added", "row", row)
	respondJSON(w, http.StatusCreated, RowResponse{Row: row})
}

// ReplacePositions swaps the whole list, as loading a file would
func (h *PositionsHandler) ReplacePositions(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ps := make([]*domain.Position, 0, len(req.Positions))
	for _, pr := range req.Positions {
		p, err := pr.position()
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		ps = append(ps, p)
	}

	var routeID string
	if !run(w, r, h.run, func() {
		h.engine.List.Replace(ps)
		routeID = h.engine.List.RouteID()
	}) {
		return
	}

	h.logger.Info("positions replaced", "count", len(ps), "route_id", routeID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"count": len(ps), "routeId": routeID})
}

func (h *PositionsHandler) EditPosition(w http.ResponseWriter, r *http.Request) {
	row, err := pathRow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req EditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateCoordinates(req.Longitude, req.Latitude); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opErr error
	if !run(w, r, h.run, func() {
		opErr = h.engine.List.Edit(row, positions.Edit{
			Description: req.Description,
			Time:        req.Time,
			Longitude:   req.Longitude,
			Latitude:    req.Latitude,
			Elevation:   req.Elevation,
		})
	}) {
		return
	}
	if opErr != nil {
		respondEngineError(w, opErr)
		return
	}
	respondJSON(w, http.StatusOK, RowResponse{Row: row})
}

func (h *PositionsHandler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	row, err := pathRow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opErr error
	if !run(w, r, h.run, func() {
		if h.engine.List.At(row) == nil {
			opErr = positions.ErrOutOfRange
			return
		}
		opErr = h.engine.List.Remove([]int{row})
	}) {
		return
	}
	if opErr != nil {
		respondEngineError(w, opErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteClosest removes the position nearest to ?lon=&lat= within the search radius
func (h *PositionsHandler) DeleteClosest(w http.ResponseWriter, r *http.Request) {
	lon, err := queryFloat(r, "lon")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	lat, err := queryFloat(r, "lat")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	row := -1
	var opErr error
	if !run(w, r, h.run, func() {
		row, opErr = h.engine.DeleteClosest(lon, lat, h.searchRadius)
	}) {
		return
	}
	if opErr != nil {
		respondEngineError(w, opErr)
		return
	}
	respondJSON(w, http.StatusOK, RowResponse{Row: row})
}

func (h *PositionsHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var rows []int
	if !run(w, r, h.run, func() {
		h.engine.Selection.SetSelectedPositions(req.Rows, req.Replace)
		rows = h.engine.Selection.SelectedRows()
	}) {
		return
	}
	if rows == nil {
		rows = []int{}
	}
	respondJSON(w, http.StatusOK, SelectionResponse{Rows: rows})
}

func (h *PositionsHandler) GetCharacteristics(w http.ResponseWriter, r *http.Request) {
	var c domain.Characteristics
	if !run(w, r, h.run, func() { c = h.engine.Characteristics() }) {
		return
	}
	respondJSON(w, http.StatusOK, CharacteristicsResponse{Characteristics: c})
}

func (h *PositionsHandler) SetCharacteristics(w http.ResponseWriter, r *http.Request) {
	var req CharacteristicsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	next, err := domain.ParseCharacteristics(req.Characteristics)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opErr error
	if !run(w, r, h.run, func() {
		opErr = h.engine.SetCharacteristics(next)
	}) {
		return
	}
	if opErr != nil {
		respondEngineError(w, opErr)
		return
	}
	if h.listener != nil {
		h.listener.CharacteristicsChanged(next)
	}
	respondJSON(w, http.StatusOK, CharacteristicsResponse{Characteristics: next})
}
