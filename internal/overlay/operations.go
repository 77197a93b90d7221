package overlay

import (
	"log/slog"

	"github.com/paulmach/orb"

	"mapsync/internal/domain"
)

// WaypointOperation draws a marker per position
type WaypointOperation struct {
	surface   Surface
	selection *SelectionUpdater
	logger    *slog.Logger
}

func NewWaypointOperation(surface Surface, selection *SelectionUpdater, logger *slog.Logger) *WaypointOperation {
	return &WaypointOperation{
		surface:   surface,
		selection: selection,
		logger:    logger.With("component", "waypoint_operation"),
	}
}

func (o *WaypointOperation) Add(entries []*PositionWithLayer) {
	for _, e := range entries {
		addMarker(o.surface, e, domain.ElementWaypoint)
	}
}

func (o *WaypointOperation) Update(entries []*PositionWithLayer) {
	for _, e := range entries {
		removeMarker(o.surface, e, o.logger)
	}
	o.Add(entries)
	o.selection.UpdatedPositions(entryPositions(entries))
}

func (o *WaypointOperation) Remove(entries []*PositionWithLayer) {
	for _, e := range entries {
		removeMarker(o.surface, e, o.logger)
	}
	o.selection.RemovedPositions(entryPositions(entries))
}

// TrackOperation draws a plain line per pair
type TrackOperation struct {
	surface   Surface
	selection *SelectionUpdater
	logger    *slog.Logger
}

func NewTrackOperation(surface Surface, selection *SelectionUpdater, logger *slog.Logger) *TrackOperation {
	return &TrackOperation{
		surface:   surface,
		selection: selection,
		logger:    logger.With("component", "track_operation"),
	}
}

func (o *TrackOperation) Add(pairs []*PairWithLayer) {
	for _, p := range pairs {
		if !p.HasCoordinates() {
			continue
		}
		p.Layer = o.surface.Add(domain.Element{Kind: domain.ElementTrack, Path: p.line()})
	}
}

func (o *TrackOperation) Update(pairs []*PairWithLayer) {
	for _, p := range pairs {
		removeConnector(o.surface, p, o.logger)
	}
	o.Add(pairs)
	o.selection.UpdatedPositions(pairPositions(pairs))
}

func (o *TrackOperation) Remove(pairs []*PairWithLayer) {
	for _, p := range pairs {
		removeConnector(o.surface, p, o.logger)
	}
	o.selection.RemovedPositions(pairPositions(pairs))
}

func addMarker(surface Surface, e *PositionWithLayer, kind domain.ElementKind) bool {
	if !e.Position.HasCoordinates() {
		return false
	}
	e.Layer = surface.Add(domain.Element{
		Kind:  kind,
		Path:  orb.LineString{e.Position.Point()},
		Label: e.Position.Description,
	})
	return true
}

// removeMarker releases the marker of an entry that was drawn; entries that
// never had coordinates have nothing to release
func removeMarker(surface Surface, e *PositionWithLayer, logger *slog.Logger) {
	if !e.HasLayer() {
		return
	}
	if !surface.Remove(e.Layer) {
		logger.Warn("could not find layer for position", "handle", e.Layer, "position", e.Position.String())
	}
	e.Layer = ""
}

func removeConnector(surface Surface, p *PairWithLayer, logger *slog.Logger) {
	if !p.HasLayer() {
		return
	}
	if !surface.Remove(p.Layer) {
		logger.Warn("could not find layer for pair", "handle", p.Layer, "first", p.First.String(), "second", p.Second.String())
	}
	p.Layer = ""
}
