package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mapsync/internal/domain"
	"mapsync/internal/hub"
	"mapsync/internal/overlay"
	"mapsync/internal/positions"
	"mapsync/internal/routestore"
	"mapsync/internal/surface"
	"mapsync/pkg/routing"
)

const testZoom = 14

type testEnv struct {
	engine  *overlay.Engine
	list    *positions.List
	surface *surface.Layers
	hub     *hub.Hub
	sw      *routing.Switch
	store   *memoryRouteStore
	flushed []string
	mux     *http.ServeMux
}

type memoryRouteStore struct {
	mu     sync.Mutex
	routes map[string]routestore.Route
}

func (m *memoryRouteStore) Save(ctx context.Context, name string, c domain.Characteristics, ps []domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[name] = routestore.Route{Name: name, Characteristics: c, Positions: ps, UpdatedAt: time.Now()}
	return nil
}

func (m *memoryRouteStore) Load(ctx context.Context, name string) (*routestore.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", routestore.ErrNotFound, name)
	}
	r.Positions = append([]domain.Position(nil), r.Positions...)
	return &r, nil
}

func (m *memoryRouteStore) List(ctx context.Context) ([]routestore.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []routestore.Summary{}
	for _, r := range m.routes {
		out = append(out, routestore.Summary{Name: r.Name, Characteristics: r.Characteristics, Positions: len(r.Positions)})
	}
	return out, nil
}

func (m *memoryRouteStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[name]; !ok {
		return fmt.Errorf("%w: %s", routestore.ErrNotFound, name)
	}
	delete(m.routes, name)
	return nil
}

type recordingFlusher struct {
	env *testEnv
}

func (f recordingFlusher) DeletePattern(ctx context.Context, pattern string) (int, error) {
	f.env.flushed = append(f.env.flushed, pattern)
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, initial domain.Characteristics, ps ...*domain.Position) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := testLogger()

	env := &testEnv{
		hub:   hub.NewHub(logger),
		sw:    routing.NewSwitch(routing.NewBeeline(), routing.ModeCar),
		store: &memoryRouteStore{routes: map[string]routestore.Route{}},
		list:  positions.New(ps...),
		mux:   http.NewServeMux(),
	}
	go env.hub.Run(ctx)
	env.surface = surface.New(testZoom, env.hub)

	loop := overlay.NewLoop(logger)
	go loop.Run(ctx)

	notifier := hub.NewNotifier(env.hub, logger)
	engine, err := overlay.NewEngine(ctx, env.list, env.surface, env.sw, loop, notifier, overlay.Options{
		Characteristics:              initial,
		ShowAllPositionsAfterLoading: true,
		Route:                        overlay.RouteOptions{InitPoll: time.Millisecond, InitTimeout: time.Second},
	}, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	var startErr error
	if err := loop.Do(ctx, func() { startErr = engine.Start() }); err != nil || startErr != nil {
		t.Fatalf("start engine: %v %v", err, startErr)
	}
	env.engine = engine

	positionsHandler := NewPositionsHandler(loop, engine, notifier, 50, logger)
	overlayHandler := NewOverlayHandler(loop, engine, env.surface)
	routesHandler := NewRoutesHandler(loop, engine, env.store, logger)
	routingHandler := NewRoutingHandler(loop, engine, env.sw, map[string]routing.Service{
		"beeline": routing.NewBeeline(),
	}, recordingFlusher{env: env}, logger)
	statsHandler := NewStatsHandler(loop, engine, env.surface, env.hub, env.sw)
	healthHandler := NewHealthHandler(env.list, env.sw)
	wsHandler := NewWSHandler(env.hub, env.surface, nil, logger)

	env.mux.HandleFunc("GET /v1/positions", positionsHandler.ListPositions)
	env.mux.HandleFunc("POST /v1/positions", positionsHandler.AddPosition)
	env.mux.HandleFunc("PUT /v1/positions", positionsHandler.ReplacePositions)
	env.mux.HandleFunc("DELETE /v1/positions", positionsHandler.DeleteClosest)
	env.mux.HandleFunc("PATCH /v1/positions/{row}", positionsHandler.EditPosition)
	env.mux.HandleFunc("DELETE /v1/positions/{row}", positionsHandler.DeletePosition)
	env.mux.HandleFunc("PUT /v1/selection", positionsHandler.SetSelection)
	env.mux.HandleFunc("GET /v1/characteristics", positionsHandler.GetCharacteristics)
	env.mux.HandleFunc("PUT /v1/characteristics", positionsHandler.SetCharacteristics)
	env.mux.HandleFunc("GET /v1/overlay", overlayHandler.GetOverlay)
	env.mux.HandleFunc("GET /v1/overlay/bounds", overlayHandler.GetBounds)
	env.mux.HandleFunc("GET /v1/metrics", overlayHandler.GetMetrics)
	env.mux.HandleFunc("GET /v1/routes", routesHandler.ListRoutes)
	env.mux.HandleFunc("POST /v1/routes/{name}", routesHandler.SaveRoute)
	env.mux.HandleFunc("PUT /v1/routes/{name}", routesHandler.LoadRoute)
	env.mux.HandleFunc("DELETE /v1/routes/{name}", routesHandler.DeleteRoute)
	env.mux.HandleFunc("GET /v1/routing", routingHandler.GetRouting)
	env.mux.HandleFunc("PUT /v1/routing", routingHandler.SetRouting)
	env.mux.HandleFunc("GET /v1/stats", statsHandler.GetStats)
	env.mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	env.mux.HandleFunc("GET /readyz", healthHandler.Readyz)
	env.mux.HandleFunc("/v1/ws", wsHandler.ServeWS)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func point(lon, lat float64) map[string]interface{} {
	return map[string]interface{}{"longitude": lon, "latitude": lat}
}

func TestPositionsLifecycle(t *testing.T) {
	env := newTestEnv(t, domain.Waypoints)

	rec := env.do(t, http.MethodPost, "/v1/positions", point(21.0, 52.2))
	expectStatus(t, rec, http.StatusCreated)
	if got := decode[RowResponse](t, rec).Row; got != 0 {
		t.Fatalf("expected row 0, got %d", got)
	}

	rec = env.do(t, http.MethodPost, "/v1/positions", point(21.1, 52.3))
	expectStatus(t, rec, http.StatusCreated)
	if got := decode[RowResponse](t, rec).Row; got != 1 {
		t.Fatalf("expected insertion after the selected row, got %d", got)
	}

	rec = env.do(t, http.MethodGet, "/v1/positions", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decode[PositionsResponse](t, rec)
	if list.Count != 2 || !list.Positions[1].Selected || list.Positions[0].Selected {
		t.Fatalf("unexpected positions %+v", list)
	}
	if list.Characteristics != domain.Waypoints {
		t.Fatalf("unexpected characteristics %s", list.Characteristics)
	}

	rec = env.do(t, http.MethodPatch, "/v1/positions/0", map[string]interface{}{"description": "start"})
	expectStatus(t, rec, http.StatusOK)
	if got := env.list.At(0).Description; got != "start" {
		t.Fatalf("expected edited description, got %q", got)
	}

	rec = env.do(t, http.MethodPatch, "/v1/positions/0", map[string]interface{}{"latitude": 123.0})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodDelete, "/v1/positions/7", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodDelete, "/v1/positions?lon=21.0001&lat=52.2", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[RowResponse](t, rec).Row; got != 0 {
		t.Fatalf("expected closest row 0, got %d", got)
	}

	rec = env.do(t, http.MethodDelete, "/v1/positions?lon=0&lat=0", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodDelete, "/v1/positions/0", nil)
	expectStatus(t, rec, http.StatusNoContent)
	if env.list.Len() != 0 {
		t.Fatalf("expected empty list, got %d", env.list.Len())
	}
	if env.surface.Count() != 0 {
		t.Fatalf("expected empty overlay, got %d elements", env.surface.Count())
	}
}

func TestSelectionAndOverlay(t *testing.T) {
	env := newTestEnv(t, domain.Waypoints,
		domain.NewPosition(21.0, 52.2, "a"),
		domain.NewPosition(21.1, 52.3, "b"),
	)

	rec := env.do(t, http.MethodPut, "/v1/selection", SelectionRequest{Rows: []int{1, 9}, Replace: true})
	expectStatus(t, rec, http.StatusOK)
	if rows := decode[SelectionResponse](t, rec).Rows; len(rows) != 1 || rows[0] != 1 {
		t.Fatalf("unexpected selection %v", rows)
	}

	rec = env.do(t, http.MethodGet, "/v1/overlay", nil)
	expectStatus(t, rec, http.StatusOK)
	fc := decode[struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}](t, rec)
	if fc.Type != "FeatureCollection" || len(fc.Features) != 3 {
		t.Fatalf("expected two waypoints and one highlight, got %s with %d features", fc.Type, len(fc.Features))
	}

	rec = env.do(t, http.MethodGet, "/v1/overlay/bounds", nil)
	expectStatus(t, rec, http.StatusOK)
	b := decode[BoundsResponse](t, rec)
	if b.Empty || b.Min[0] != 21.0 || b.Max[1] != 52.3 {
		t.Fatalf("unexpected bounds %+v", b)
	}
}

func TestCharacteristicsAndMetrics(t *testing.T) {
	env := newTestEnv(t, domain.Route,
		domain.NewPosition(21.0, 52.2, "a"),
		domain.NewPosition(21.1, 52.3, "b"),
	)

	rec := env.do(t, http.MethodGet, "/v1/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	m := decode[MetricsResponse](t, rec)
	if m.Metrics == nil || m.Metrics.DistanceMeters <= 0 {
		t.Fatalf("expected route metrics, got %+v", m)
	}

	rec = env.do(t, http.MethodPut, "/v1/characteristics", CharacteristicsRequest{Characteristics: "railway"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPut, "/v1/characteristics", CharacteristicsRequest{Characteristics: "track"})
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/v1/characteristics", nil)
	if got := decode[CharacteristicsResponse](t, rec).Characteristics; got != domain.Track {
		t.Fatalf("expected track, got %s", got)
	}

	rec = env.do(t, http.MethodGet, "/v1/metrics", nil)
	if m := decode[MetricsResponse](t, rec); m.Metrics != nil {
		t.Fatalf("track mode must not report metrics, got %+v", m.Metrics)
	}
}

func TestSaveAndLoadRoute(t *testing.T) {
	env := newTestEnv(t, domain.Track,
		domain.NewPosition(21.0, 52.2, "a"),
		domain.NewPosition(21.1, 52.3, "b"),
	)

	rec := env.do(t, http.MethodPost, "/v1/routes/commute", nil)
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodPut, "/v1/positions", ReplaceRequest{})
	expectStatus(t, rec, http.StatusOK)
	if env.list.Len() != 0 {
		t.Fatalf("expected empty list after replace")
	}

	rec = env.do(t, http.MethodPut, "/v1/characteristics", CharacteristicsRequest{Characteristics: "waypoints"})
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPut, "/v1/routes/commute", nil)
	expectStatus(t, rec, http.StatusOK)
	loaded := decode[SavedRouteResponse](t, rec)
	if loaded.Positions != 2 || loaded.Characteristics != domain.Track {
		t.Fatalf("unexpected loaded route %+v", loaded)
	}

	rec = env.do(t, http.MethodGet, "/v1/positions", nil)
	list := decode[PositionsResponse](t, rec)
	if list.Count != 2 || list.Characteristics != domain.Track || list.Positions[1].Description != "b" {
		t.Fatalf("unexpected positions after load %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/v1/routes", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[RoutesResponse](t, rec).Count; got != 1 {
		t.Fatalf("expected one stored route, got %d", got)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/v1/routes/commute", nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodDelete, "/v1/routes/commute", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/routes/commute", nil), http.StatusNotFound)
}

func TestRoutingSwitch(t *testing.T) {
	env := newTestEnv(t, domain.Route,
		domain.NewPosition(21.0, 52.2, "a"),
		domain.NewPosition(21.1, 52.3, "b"),
	)

	rec := env.do(t, http.MethodPut, "/v1/routing", RoutingRequest{Backend: "teleport"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPut, "/v1/routing", RoutingRequest{TravelMode: "boat"})
	expectStatus(t, rec, http.StatusBadRequest)

	before := env.engine.Route.Stats().Generations
	rec = env.do(t, http.MethodPut, "/v1/routing", RoutingRequest{Backend: "beeline", TravelMode: "bike", FlushCache: true})
	expectStatus(t, rec, http.StatusOK)
	resp := decode[RoutingResponse](t, rec)
	if resp.TravelMode != routing.ModeBike || resp.Backend != "beeline" || !resp.Initialized {
		t.Fatalf("unexpected routing response %+v", resp)
	}
	if env.engine.Route.Stats().Generations <= before {
		t.Fatalf("changing the backend must discard the routing generation")
	}
	if len(env.flushed) != 1 || env.flushed[0] != "route:beeline:*" {
		t.Fatalf("expected cache flush for beeline, got %v", env.flushed)
	}
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t, domain.Waypoints, domain.NewPosition(21.0, 52.2, "a"))

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	expectStatus(t, rec, http.StatusOK)
	if ready := decode[ReadyResponse](t, rec); !ready.Ready || ready.PositionCount != 1 {
		t.Fatalf("unexpected readiness %+v", ready)
	}

	rec = env.do(t, http.MethodGet, "/v1/stats", nil)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[StatsResponse](t, rec)
	if stats.Overlay.Positions != 1 || stats.Overlay.Elements != 1 || stats.Overlay.ByKind[domain.ElementWaypoint] != 1 {
		t.Fatalf("unexpected overlay stats %+v", stats.Overlay)
	}
	if stats.Routing.Backend != "beeline" {
		t.Fatalf("unexpected routing stats %+v", stats.Routing)
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := CORSMiddleware([]string{"http://allowed"})(next)

	req := httptest.NewRequest(http.MethodOptions, "/v1/positions", nil)
	req.Header.Set("Origin", "http://allowed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "http://allowed" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/positions", nil)
	req.Header.Set("Origin", "http://other")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be allowed, got %v", rec.Header())
	}
}
