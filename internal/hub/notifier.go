package hub

import (
	"log/slog"

	"github.com/paulmach/orb"

	"mapsync/internal/domain"
)

const (
	EventMetrics           = "metrics"
	EventRecenter          = "recenter"
	EventCenter            = "center"
	EventRoutingError      = "routing_error"
	EventDownloadStarted   = "download_started"
	EventProcessingStarted = "processing_started"
	EventCharacteristics   = "characteristics"
)

type BoundPayload struct {
	Min orb.Point `json:"min"`
	Max orb.Point `json:"max"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Notifier publishes engine signals to websocket clients
type Notifier struct {
	hub    *Hub
	logger *slog.Logger
}

func NewNotifier(hub *Hub, logger *slog.Logger) *Notifier {
	return &Notifier{
		hub:    hub,
		logger: logger.With("component", "notifier"),
	}
}

func (n *Notifier) MetricsChanged(m domain.Metrics) {
	n.hub.Publish(Event{Type: EventMetrics, Payload: m})
}

func (n *Notifier) Recenter(b orb.Bound) {
	n.hub.Publish(Event{Type: EventRecenter, Payload: BoundPayload{Min: b.Min, Max: b.Max}})
}

func (n *Notifier) Center(p orb.Point) {
	n.hub.Publish(Event{Type: EventCenter, Payload: p})
}

func (n *Notifier) RoutingError(err error) {
	n.logger.Warn("routing error", "error", err)
	n.hub.Publish(Event{Type: EventRoutingError, Payload: ErrorPayload{Message: err.Error()}})
}

func (n *Notifier) DownloadStarted() {
	n.logger.Info("downloading routing data")
	n.hub.Publish(Event{Type: EventDownloadStarted})
}

func (n *Notifier) ProcessingStarted() {
	n.logger.Info("processing routing data")
	n.hub.Publish(Event{Type: EventProcessingStarted})
}

// CharacteristicsChanged tells clients which interpretation is active
func (n *Notifier) CharacteristicsChanged(c domain.Characteristics) {
	n.hub.Publish(Event{Type: EventCharacteristics, Payload: c})
}
