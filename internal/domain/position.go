package domain

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Position is a single entry of a route, track or waypoint list
type Position struct {
	Longitude   *float64  `json:"longitude,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Elevation   *float64  `json:"elevation,omitempty"`
	Description string    `json:"description"`
	Time        time.Time `json:"time,omitempty"`
}

// NewPosition creates a position with coordinates
func NewPosition(longitude, latitude float64, description string) *Position {
	return &Position{
		Longitude:   &longitude,
		Latitude:    &latitude,
		Description: description,
	}
}

// HasCoordinates reports whether both longitude and latitude are present
func (p *Position) HasCoordinates() bool {
	return p != nil && p.Longitude != nil && p.Latitude != nil
}

// Point returns the position as an orb point. Only valid if HasCoordinates.
func (p *Position) Point() orb.Point {
	if !p.HasCoordinates() {
		return orb.Point{}
	}
	return orb.Point{*p.Longitude, *p.Latitude}
}

// DistanceTo returns the great-circle distance in meters
func (p *Position) DistanceTo(other *Position) float64 {
	if !p.HasCoordinates() || !other.HasCoordinates() {
		return 0
	}
	return geo.DistanceHaversine(p.Point(), other.Point())
}

// TimeTo returns the time elapsed between two timestamped positions, zero if
// either timestamp is unknown or they are out of order.
func (p *Position) TimeTo(other *Position) time.Duration {
	if p == nil || other == nil || p.Time.IsZero() || other.Time.IsZero() {
		return 0
	}
	d := other.Time.Sub(p.Time)
	if d < 0 {
		return 0
	}
	return d
}

func (p *Position) String() string {
	if p == nil {
		return "<nil>"
	}
	if !p.HasCoordinates() {
		return fmt.Sprintf("[-,-] %q", p.Description)
	}
	return fmt.Sprintf("[%.6f,%.6f] %q", *p.Longitude, *p.Latitude, p.Description)
}

// Column identifies the attribute of a position touched by an update
type Column int

const (
	ColumnAll Column = iota - 1
	ColumnDescription
	ColumnTime
	ColumnLongitude
	ColumnLatitude
	ColumnElevation
)

// ChangeType is the kind of mutation reported by a position list
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent describes a contiguous, inclusive row range that changed.
// ContinuousRange marks the replacement of the whole list.
type ChangeEvent struct {
	Type            ChangeType
	FirstRow        int
	LastRow         int
	Column          Column
	ContinuousRange bool
}
