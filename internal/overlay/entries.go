package overlay

import (
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"mapsync/internal/domain"
)

// PositionWithLayer ties a position to the marker representing it. Layer is
// empty when the position is not on the map.
type PositionWithLayer struct {
	Position *domain.Position
	Layer    domain.Handle
}

func (p *PositionWithLayer) HasLayer() bool {
	return p.Layer != ""
}

// RouteState tracks the routing progress of a pair
type RouteState int

const (
	StateBeeline RouteState = iota
	StateAwaitingService
	StateAwaitingDownload
	StateRouted
	StateRoutedInvalid
)

func (s RouteState) String() string {
	switch s {
	case StateBeeline:
		return "beeline"
	case StateAwaitingService:
		return "awaiting_service"
	case StateAwaitingDownload:
		return "awaiting_download"
	case StateRouted:
		return "routed"
	case StateRoutedInvalid:
		return "routed_invalid"
	default:
		return "unknown"
	}
}

func (s RouteState) terminal() bool {
	return s == StateRouted || s == StateRoutedInvalid
}

// PairWithLayer ties two consecutive positions to the connector between them.
// Distance and Duration are nil until known.
type PairWithLayer struct {
	First    *domain.Position
	Second   *domain.Position
	Layer    domain.Handle
	Distance *float64
	Duration *time.Duration
	State    RouteState

	token *cancelToken
}

func (p *PairWithLayer) HasLayer() bool {
	return p.Layer != ""
}

func (p *PairWithLayer) HasCoordinates() bool {
	return p.First.HasCoordinates() && p.Second.HasCoordinates()
}

func (p *PairWithLayer) line() orb.LineString {
	return orb.LineString{p.First.Point(), p.Second.Point()}
}

func (p *PairWithLayer) setMetrics(distance float64, duration time.Duration) {
	p.Distance = &distance
	p.Duration = &duration
}

func (p *PairWithLayer) clearMetrics() {
	p.Distance = nil
	p.Duration = nil
}

// cancelToken marks routing work for one pair as no longer wanted
type cancelToken struct {
	cancelled atomic.Bool
}

func newCancelToken() *cancelToken {
	return &cancelToken{}
}

func (t *cancelToken) cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

func (t *cancelToken) isCancelled() bool {
	return t == nil || t.cancelled.Load()
}

func pairPositions(pairs []*PairWithLayer) []*domain.Position {
	seen := make(map[*domain.Position]struct{}, len(pairs)+1)
	var result []*domain.Position
	add := func(p *domain.Position) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	for _, pair := range pairs {
		add(pair.First)
		add(pair.Second)
	}
	return result
}

func entryPositions(entries []*PositionWithLayer) []*domain.Position {
	result := make([]*domain.Position, len(entries))
	for i, e := range entries {
		result[i] = e.Position
	}
	return result
}
