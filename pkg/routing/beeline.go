package routing

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Beeline connects points in a straight line. It is always initialized and
// never produces a valid route.
type Beeline struct{}

func NewBeeline() *Beeline {
	return &Beeline{}
}

func (b *Beeline) Name() string                       { return "beeline" }
func (b *Beeline) IsInitialized() bool                { return true }
func (b *Beeline) IsDownload() bool                   { return false }
func (b *Beeline) AvailableTravelModes() []TravelMode { return []TravelMode{ModeCar, ModeBike, ModeFoot} }
func (b *Beeline) PreferredTravelMode() TravelMode    { return ModeCar }

func (b *Beeline) DownloadRoutingDataFor(ctx context.Context, points []orb.Point) (DownloadFuture, error) {
	return NothingToDownload(), nil
}

func (b *Beeline) RouteBetween(ctx context.Context, from, to orb.Point, mode TravelMode) (Result, error) {
	return Result{
		Path:     orb.LineString{from, to},
		Distance: geo.DistanceHaversine(from, to),
		Valid:    false,
	}, nil
}

type noDownload struct{}

func (noDownload) RequiresDownload() bool             { return false }
func (noDownload) Download(ctx context.Context) error { return nil }
func (noDownload) RequiresProcessing() bool           { return false }
func (noDownload) Process(ctx context.Context) error  { return nil }

// NothingToDownload is the future of a backend whose data is always present
func NothingToDownload() DownloadFuture {
	return noDownload{}
}
