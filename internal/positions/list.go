package positions

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"mapsync/internal/domain"
)

var ErrOutOfRange = errors.New("row out of range")

// Listener receives change events after the list lock has been released
type Listener func(domain.ChangeEvent)

// List is the ordered, mutable position sequence observed by the overlay engine.
// Mutations are expected on the foreground loop; reads are safe from anywhere.
type List struct {
	mu        sync.RWMutex
	positions []*domain.Position
	routeID   string
	listeners []Listener
}

func New(positions ...*domain.Position) *List {
	return &List{
		positions: append([]*domain.Position(nil), positions...),
		routeID:   uuid.NewString(),
	}
}

func (l *List) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// At returns the position at row, nil when out of range
func (l *List) At(row int) *domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if row < 0 || row >= len(l.positions) {
		return nil
	}
	return l.positions[row]
}

// IndexOf returns the row holding exactly this position, or -1
func (l *List) IndexOf(p *domain.Position) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, candidate := range l.positions {
		if candidate == p {
			return i
		}
	}
	return -1
}

// RouteID identifies the current contents; it changes only on Replace
func (l *List) RouteID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.routeID
}

// Positions returns a copy of all positions
func (l *List) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]domain.Position, len(l.positions))
	for i, p := range l.positions {
		result[i] = *p
	}
	return result
}

// Bound returns the bounding box of all positions with coordinates
func (l *List) Bound() (orb.Bound, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var points orb.MultiPoint
	for _, p := range l.positions {
		if p.HasCoordinates() {
			points = append(points, p.Point())
		}
	}
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	return points.Bound(), true
}

// Insert places positions before row; row == Len appends
func (l *List) Insert(row int, ps ...*domain.Position) error {
	if len(ps) == 0 {
		return nil
	}

	l.mu.Lock()
	if row < 0 || row > len(l.positions) {
		l.mu.Unlock()
		return fmt.Errorf("insert at %d: %w", row, ErrOutOfRange)
	}
	tail := append([]*domain.Position(nil), l.positions[row:]...)
	l.positions = append(append(l.positions[:row], ps...), tail...)
	listeners := l.listeners
	l.mu.Unlock()

	notify(listeners, domain.ChangeEvent{
		Type:     domain.ChangeInsert,
		FirstRow: row,
		LastRow:  row + len(ps) - 1,
		Column:   domain.ColumnAll,
	})
	return nil
}

// Edit holds the attributes to change; nil fields are left untouched
type Edit struct {
	Description *string
	Time        *time.Time
	Longitude   *float64
	Latitude    *float64
	Elevation   *float64
}

func (e Edit) columns() []domain.Column {
	var cols []domain.Column
	if e.Description != nil {
		cols = append(cols, domain.ColumnDescription)
	}
	if e.Time != nil {
		cols = append(cols, domain.ColumnTime)
	}
	if e.Longitude != nil {
		cols = append(cols, domain.ColumnLongitude)
	}
	if e.Latitude != nil {
		cols = append(cols, domain.ColumnLatitude)
	}
	if e.Elevation != nil {
		cols = append(cols, domain.ColumnElevation)
	}
	return cols
}

// Edit changes a single position in place. The event names the changed column,
// or ColumnAll when more than one attribute changed.
func (l *List) Edit(row int, e Edit) error {
	cols := e.columns()
	if len(cols) == 0 {
		return nil
	}

	l.mu.Lock()
	if row < 0 || row >= len(l.positions) {
		l.mu.Unlock()
		return fmt.Errorf("edit row %d: %w", row, ErrOutOfRange)
	}
	p := l.positions[row]
	if e.Description != nil {
		p.Description = *e.Description
	}
	if e.Time != nil {
		p.Time = *e.Time
	}
	if e.Longitude != nil {
		v := *e.Longitude
		p.Longitude = &v
	}
	if e.Latitude != nil {
		v := *e.Latitude
		p.Latitude = &v
	}
	if e.Elevation != nil {
		v := *e.Elevation
		p.Elevation = &v
	}
	listeners := l.listeners
	l.mu.Unlock()

	column := domain.ColumnAll
	if len(cols) == 1 {
		column = cols[0]
	}
	notify(listeners, domain.ChangeEvent{
		Type:     domain.ChangeUpdate,
		FirstRow: row,
		LastRow:  row,
		Column:   column,
	})
	return nil
}

// Remove deletes the given rows. Contiguous rows are reported as one delete
// event, highest range first, each sent right after its range is gone.
func (l *List) Remove(rows []int) error {
	if len(rows) == 0 {
		return nil
	}

	sorted := append([]int(nil), rows...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	l.mu.RLock()
	for _, row := range sorted {
		if row < 0 || row >= len(l.positions) {
			l.mu.RUnlock()
			return fmt.Errorf("remove row %d: %w", row, ErrOutOfRange)
		}
	}
	l.mu.RUnlock()

	for i := 0; i < len(sorted); {
		last := sorted[i]
		first := last
		j := i + 1
		for ; j < len(sorted); j++ {
			if sorted[j] == first {
				continue
			}
			if sorted[j] != first-1 {
				break
			}
			first = sorted[j]
		}

		l.mu.Lock()
		l.positions = append(l.positions[:first], l.positions[last+1:]...)
		listeners := l.listeners
		l.mu.Unlock()

		notify(listeners, domain.ChangeEvent{
			Type:     domain.ChangeDelete,
			FirstRow: first,
			LastRow:  last,
			Column:   domain.ColumnAll,
		})
		i = j
	}
	return nil
}

// Replace swaps the whole contents, assigns a new route identity and reports a
// continuous range update over all rows.
func (l *List) Replace(ps []*domain.Position) {
	l.mu.Lock()
	l.positions = append([]*domain.Position(nil), ps...)
	l.routeID = uuid.NewString()
	last := len(l.positions) - 1
	listeners := l.listeners
	l.mu.Unlock()

	notify(listeners, domain.ChangeEvent{
		Type:            domain.ChangeUpdate,
		FirstRow:        0,
		LastRow:         last,
		Column:          domain.ColumnAll,
		ContinuousRange: true,
	})
}

// ClosestPosition returns the row of the position nearest to the coordinates
// within threshold meters, or -1
func (l *List) ClosestPosition(longitude, latitude, thresholdMeters float64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	target := orb.Point{longitude, latitude}
	best := -1
	bestDistance := math.MaxFloat64
	for i, p := range l.positions {
		if !p.HasCoordinates() {
			continue
		}
		d := geo.DistanceHaversine(target, p.Point())
		if d <= thresholdMeters && d < bestDistance {
			best = i
			bestDistance = d
		}
	}
	return best
}

func notify(listeners []Listener, ev domain.ChangeEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}
