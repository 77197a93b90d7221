package overlay

import (
	"github.com/paulmach/orb"

	"mapsync/internal/domain"
	"mapsync/pkg/routing"
)

// Notifier receives user facing signals. It is only called on the foreground.
type Notifier interface {
	MetricsChanged(m domain.Metrics)
	Recenter(b orb.Bound)
	Center(p orb.Point)
	RoutingError(err error)
	DownloadStarted()
	ProcessingStarted()
}

type NopNotifier struct{}

func (NopNotifier) MetricsChanged(domain.Metrics) {}
func (NopNotifier) Recenter(orb.Bound)            {}
func (NopNotifier) Center(orb.Point)              {}
func (NopNotifier) RoutingError(error)            {}
func (NopNotifier) DownloadStarted()              {}
func (NopNotifier) ProcessingStarted()            {}

// Surface places and removes visual elements
type Surface interface {
	Add(el domain.Element) domain.Handle
	Remove(h domain.Handle) bool
}

// RoutingProvider yields the currently selected routing backend
type RoutingProvider interface {
	RoutingService() routing.Service
	TravelMode() routing.TravelMode
}

// PositionSource is the read side of the position list
type PositionSource interface {
	Len() int
	At(row int) *domain.Position
	IndexOf(p *domain.Position) int
}
