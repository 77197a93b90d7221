package handler

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"mapsync/internal/domain"
	"mapsync/internal/hub"
	"mapsync/internal/overlay"
	"mapsync/pkg/routing"
)

// Stats tracks server-wide metrics
type Stats struct {
	startTime     time.Time
	requestCount  atomic.Int64
	wsConnections atomic.Int64
	wsMessagesIn  atomic.Int64
	wsMessagesOut atomic.Int64
}

// Global stats instance
var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()      { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections() { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections() { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()  { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut() { s.wsMessagesOut.Add(1) }

// ElementCounter reports what is drawn on the overlay
type ElementCounter interface {
	Count() int
	CountByKind() map[domain.ElementKind]int
}

type cacheStatser interface {
	CacheStats() (hits, misses int64)
}

type StatsHandler struct {
	run     Runner
	engine  *overlay.Engine
	surface ElementCounter
	hub     *hub.Hub
	sw      *routing.Switch
}

func NewStatsHandler(runner Runner, engine *overlay.Engine, surface ElementCounter, h *hub.Hub, sw *routing.Switch) *StatsHandler {
	return &StatsHandler{
		run:     runner,
		engine:  engine,
		surface: surface,
		hub:     h,
		sw:      sw,
	}
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Overlay   OverlayStatsResponse   `json:"overlay"`
	Routing   RoutingStatsResponse   `json:"routing"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	Cache     *CacheStatsResponse    `json:"cache,omitempty"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	Version       string    `json:"version"`
}

type OverlayStatsResponse struct {
	Characteristics domain.Characteristics     `json:"characteristics"`
	Positions       int                        `json:"positions"`
	Elements        int                        `json:"elements"`
	ByKind          map[domain.ElementKind]int `json:"by_kind"`
}

type RoutingStatsResponse struct {
	Backend     string             `json:"backend"`
	TravelMode  routing.TravelMode `json:"travel_mode"`
	Initialized bool               `json:"initialized"`
	Batches     int64              `json:"batches"`
	Routed      int64              `json:"routed"`
	Failures    int64              `json:"failures"`
	StaleDrops  int64              `json:"stale_drops"`
	Generations int64              `json:"generations"`
	States      map[string]int     `json:"states"`
}

type WebSocketStatsResponse struct {
	Connections     int64 `json:"connections"`
	MessagesIn      int64 `json:"messages_in"`
	MessagesOut     int64 `json:"messages_out"`
	SubscribedTiles int   `json:"subscribed_tiles"`
	DeltasSent      int64 `json:"deltas_sent"`
	EventsSent      int64 `json:"events_sent"`
	Dropped         int64 `json:"dropped"`
}

type CacheStatsResponse struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Ratio  float64 `json:"hit_ratio"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)

	var overlayStats OverlayStatsResponse
	var states map[string]int
	if !run(w, r, h.run, func() {
		overlayStats.Characteristics = h.engine.Characteristics()
		overlayStats.Positions = h.engine.List.Len()
		states = h.engine.Route.States()
	}) {
		return
	}
	overlayStats.Elements = h.surface.Count()
	overlayStats.ByKind = h.surface.CountByKind()

	svc := h.sw.RoutingService()
	rs := h.engine.Route.Stats()

	// Memory stats
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	hubStats := h.hub.Stats()

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			Version:       "1.0.0",
		},
		Overlay: overlayStats,
		Routing: RoutingStatsResponse{
			Backend:     svc.Name(),
			TravelMode:  h.sw.TravelMode(),
			Initialized: svc.IsInitialized(),
			Batches:     rs.Batches,
			Routed:      rs.Routed,
			Failures:    rs.Failures,
			StaleDrops:  rs.StaleDrops,
			Generations: rs.Generations,
			States:      states,
		},
		WebSocket: WebSocketStatsResponse{
			Connections:     ServerStats.wsConnections.Load(),
			MessagesIn:      ServerStats.wsMessagesIn.Load(),
			MessagesOut:     ServerStats.wsMessagesOut.Load(),
			SubscribedTiles: hubStats.SubscribedTiles,
			DeltasSent:      hubStats.DeltasSent,
			EventsSent:      hubStats.EventsSent,
			Dropped:         hubStats.Dropped,
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}

	// Cache ratio
	if cs, ok := svc.(cacheStatser); ok {
		hits, misses := cs.CacheStats()
		var ratio float64
		if total := hits + misses; total > 0 {
			ratio = float64(hits) / float64(total)
		}
		response.Cache = &CacheStatsResponse{Hits: hits, Misses: misses, Ratio: ratio}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(response)
}
