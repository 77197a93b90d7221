package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mapsync/internal/domain"
	"mapsync/internal/positions"
)

var ErrNoPositionNearby = errors.New("no position nearby")

type Options struct {
	Characteristics              domain.Characteristics
	ShowAllPositionsAfterLoading bool
	Route                        RouteOptions
}

// Engine wires the updaters, the routing coordinator and the controller to a
// position list. All methods must run on the foreground.
type Engine struct {
	*Controller

	List      *positions.List
	Selection *SelectionUpdater
	Route     *RouteOperation
	Waypoints *WaypointUpdater
	Track     *TrackUpdater
	Routes    *TrackUpdater
}

func NewEngine(
	ctx context.Context,
	list *positions.List,
	surface Surface,
	provider RoutingProvider,
	dispatcher Dispatcher,
	notifier Notifier,
	opts Options,
	logger *slog.Logger,
) (*Engine, error) {
	if !opts.Characteristics.Valid() {
		return nil, fmt.Errorf("initial characteristics %d: %w", int(opts.Characteristics), domain.ErrUnsupportedCharacteristics)
	}

	selection := NewSelectionUpdater(list, surface, notifier, logger)
	route := NewRouteOperation(ctx, surface, selection, provider, dispatcher, notifier, opts.Route, logger)

	e := &Engine{
		List:      list,
		Selection: selection,
		Route:     route,
		Waypoints: NewWaypointUpdater(list, NewWaypointOperation(surface, selection, logger)),
		Track:     NewTrackUpdater(list, NewTrackOperation(surface, selection, logger)),
		Routes:    NewTrackUpdater(list, route),
	}
	e.Controller = NewController(list, map[domain.Characteristics]Updater{
		domain.Waypoints: e.Waypoints,
		domain.Track:     e.Track,
		domain.Route:     e.Routes,
	}, route, selection, notifier, opts.Characteristics, opts.ShowAllPositionsAfterLoading, logger)

	list.Subscribe(e.Controller.HandleEvent)
	return e, nil
}

// InsertAfterSelection inserts p after the last selected position, or appends
// it when nothing is selected, and selects it
func (e *Engine) InsertAfterSelection(p *domain.Position) (int, error) {
	row := e.List.Len()
	if rows := e.Selection.SelectedRows(); len(rows) > 0 {
		row = rows[len(rows)-1] + 1
	}
	if err := e.List.Insert(row, p); err != nil {
		return -1, err
	}
	e.Selection.SetSelectedPositions([]int{row}, true)
	return row, nil
}

// DeleteClosest removes the position nearest to the coordinates within
// thresholdMeters
func (e *Engine) DeleteClosest(longitude, latitude, thresholdMeters float64) (int, error) {
	row := e.List.ClosestPosition(longitude, latitude, thresholdMeters)
	if row < 0 {
		return -1, ErrNoPositionNearby
	}
	if err := e.List.Remove([]int{row}); err != nil {
		return -1, err
	}
	return row, nil
}
