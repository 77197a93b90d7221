package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"mapsync/pkg/routing"
)

// PositionCounter is the part of the position list health checks read
type PositionCounter interface {
	Len() int
}

type HealthHandler struct {
	list PositionCounter
	sw   *routing.Switch
}

func NewHealthHandler(list PositionCounter, sw *routing.Switch) *HealthHandler {
	return &HealthHandler{
		list: list,
		sw:   sw,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready          bool      `json:"ready"`
	RoutingBackend string    `json:"routingBackend"`
	PositionCount  int       `json:"positionCount"`
	ServerTime     time.Time `json:"serverTime"`
}

// Readyz reports ready once the routing backend is initialized
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	svc := h.sw.RoutingService()
	ready := svc.IsInitialized()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:          ready,
		RoutingBackend: svc.Name(),
		PositionCount:  h.list.Len(),
		ServerTime:     time.Now(),
	})
}
