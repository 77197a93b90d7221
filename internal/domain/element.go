package domain

import "github.com/paulmach/orb"

// Handle is the opaque identity of an element placed on the map surface
type Handle string

// ElementKind distinguishes markers and connectors
type ElementKind string

const (
	ElementWaypoint     ElementKind = "waypoint"
	ElementSelection    ElementKind = "selection"
	ElementTrack        ElementKind = "track"
	ElementBeeline      ElementKind = "beeline"
	ElementRoute        ElementKind = "route"
	ElementInvalidRoute ElementKind = "invalid_route"
)

// IsMarker reports whether the kind is drawn at a single point
func (k ElementKind) IsMarker() bool {
	return k == ElementWaypoint || k == ElementSelection
}

// Element is a visual map element. Markers carry a single point in Path.
type Element struct {
	Kind  ElementKind    `json:"kind"`
	Path  orb.LineString `json:"path"`
	Label string         `json:"label,omitempty"`
}

// DeltaType indicates whether an element was added or removed
type DeltaType string

const (
	DeltaAdd    DeltaType = "add"
	DeltaRemove DeltaType = "remove"
)

// ElementDelta represents a change on the map surface
type ElementDelta struct {
	Type    DeltaType `json:"type"`
	Handle  Handle    `json:"handle"`
	Element *Element  `json:"element,omitempty"`
	TileIDs []string  `json:"tileIds"`
}

// Metrics aggregates distance and time over all live pairs
type Metrics struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds int64   `json:"durationSeconds"`
}
