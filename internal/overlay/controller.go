package overlay

import (
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"mapsync/internal/domain"
)

// ListSource is everything the controller reads from the position list
type ListSource interface {
	PositionSource
	RouteID() string
	Bound() (orb.Bound, bool)
}

// canceler discards in-flight background work of the outgoing strategy
type canceler interface {
	Reset()
}

// pruner forgets state kept for positions that left the list
type pruner interface {
	Prune()
}

// Controller routes list events to the active updater and swaps updaters when
// the characteristics change. Foreground only.
type Controller struct {
	list      ListSource
	updaters  map[domain.Characteristics]Updater
	routing   canceler
	selection pruner
	notifier  Notifier
	logger    *slog.Logger

	characteristics domain.Characteristics
	active          Updater
	started         bool
	lastRouteID     string
	showAll         bool
}

func NewController(
	list ListSource,
	updaters map[domain.Characteristics]Updater,
	routing canceler,
	selection pruner,
	notifier Notifier,
	initial domain.Characteristics,
	showAllPositionsAfterLoading bool,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		list:            list,
		updaters:        updaters,
		routing:         routing,
		selection:       selection,
		notifier:        notifier,
		logger:          logger.With("component", "controller"),
		characteristics: initial,
		showAll:         showAllPositionsAfterLoading,
	}
}

// Start renders the current list contents with the initial characteristics
func (c *Controller) Start() error {
	u, ok := c.updaters[c.characteristics]
	if !ok {
		return fmt.Errorf("start with %s: %w", c.characteristics, domain.ErrUnsupportedCharacteristics)
	}
	c.active = u
	c.started = true
	c.lastRouteID = c.list.RouteID()
	c.active.HandleAdd(0, c.list.Len()-1)
	c.logger.Info("overlay started", "characteristics", c.characteristics.String(), "positions", c.list.Len())
	return nil
}

func (c *Controller) Characteristics() domain.Characteristics {
	return c.characteristics
}

// HandleEvent is the position list listener
func (c *Controller) HandleEvent(ev domain.ChangeEvent) {
	if !c.started {
		return
	}

	switch ev.Type {
	case domain.ChangeInsert:
		c.active.HandleAdd(ev.FirstRow, ev.LastRow)

	case domain.ChangeUpdate:
		if ev.ContinuousRange {
			c.handleReplacement()
			return
		}
		switch ev.Column {
		case domain.ColumnAll, domain.ColumnDescription, domain.ColumnLongitude, domain.ColumnLatitude:
			c.active.HandleUpdate(ev.FirstRow, ev.LastRow)
		}

	case domain.ChangeDelete:
		c.active.HandleRemove(ev.FirstRow, ev.LastRow)
		c.selection.Prune()
	}
}

// handleReplacement skips the local diff. A new route identity means new
// contents and gets a full rebuild.
func (c *Controller) handleReplacement() {
	if routeID := c.list.RouteID(); routeID != c.lastRouteID {
		c.logger.Debug("route replaced", "route_id", routeID)
		c.replace(c.characteristics)
	}
	c.selection.Prune()
	if !c.showAll {
		return
	}
	if b, ok := c.list.Bound(); ok {
		c.notifier.Recenter(b)
	}
}

// SetCharacteristics switches the interpretation of the list. Switching to the
// same characteristics for the same route is a no-op.
func (c *Controller) SetCharacteristics(next domain.Characteristics) error {
	if _, ok := c.updaters[next]; !ok {
		return fmt.Errorf("switch to %s: %w", next, domain.ErrUnsupportedCharacteristics)
	}
	if !c.started {
		c.characteristics = next
		return nil
	}
	if next == c.characteristics && c.list.RouteID() == c.lastRouteID {
		c.logger.Debug("skipping redundant characteristics switch", "characteristics", next.String())
		return nil
	}
	c.replace(next)
	return nil
}

// RoutingServiceChanged rebuilds routes computed with the previous backend
func (c *Controller) RoutingServiceChanged() {
	if !c.started || c.characteristics != domain.Route {
		return
	}
	c.replace(domain.Route)
}

func (c *Controller) replace(next domain.Characteristics) {
	previous := c.characteristics

	c.routing.Reset()
	c.active.HandleRemove(0, End)

	c.characteristics = next
	c.active = c.updaters[next]
	c.lastRouteID = c.list.RouteID()
	c.active.HandleAdd(0, c.list.Len()-1)

	c.logger.Info("characteristics applied",
		"from", previous.String(),
		"to", next.String(),
		"positions", c.list.Len(),
	)
}
