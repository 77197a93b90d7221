package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

var (
	ErrNotInitialized = errors.New("routing service not initialized")
	ErrNoRoute        = errors.New("no route found")
	ErrUnknownMode    = errors.New("unknown travel mode")
)

// TravelMode names a routing profile, e.g. car, bike, foot
type TravelMode string

const (
	ModeCar  TravelMode = "car"
	ModeBike TravelMode = "bike"
	ModeFoot TravelMode = "foot"
)

func ParseTravelMode(s string) (TravelMode, error) {
	switch m := TravelMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCar, ModeBike, ModeFoot:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Result of routing between two points. Valid is false when the backend could
// not find a path; Path and Distance then describe a fallback.
type Result struct {
	Path     orb.LineString `json:"path"`
	Distance float64        `json:"distance"`
	Duration time.Duration  `json:"duration"`
	Valid    bool           `json:"valid"`
}

// DownloadFuture describes the data a backend still needs for a set of coordinates
type DownloadFuture interface {
	RequiresDownload() bool
	Download(ctx context.Context) error
	RequiresProcessing() bool
	Process(ctx context.Context) error
}

// Service is a routing backend
type Service interface {
	Name() string
	IsInitialized() bool
	// IsDownload reports whether the backend works on downloaded data
	IsDownload() bool
	AvailableTravelModes() []TravelMode
	PreferredTravelMode() TravelMode
	DownloadRoutingDataFor(ctx context.Context, points []orb.Point) (DownloadFuture, error)
	RouteBetween(ctx context.Context, from, to orb.Point, mode TravelMode) (Result, error)
}

// SupportsMode reports whether the service offers the travel mode
func SupportsMode(s Service, mode TravelMode) bool {
	for _, m := range s.AvailableTravelModes() {
		if m == mode {
			return true
		}
	}
	return false
}

// Switch holds the currently selected routing service and travel mode
type Switch struct {
	mu      sync.RWMutex
	service Service
	mode    TravelMode
}

func NewSwitch(service Service, mode TravelMode) *Switch {
	s := &Switch{}
	s.Set(service, mode)
	return s
}

func (s *Switch) RoutingService() Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service
}

func (s *Switch) TravelMode() TravelMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Set swaps the service; an unsupported mode falls back to the preferred one
func (s *Switch) Set(service Service, mode TravelMode) {
	if !SupportsMode(service, mode) {
		mode = service.PreferredTravelMode()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.service = service
	s.mode = mode
}
