package overlay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"mapsync/internal/domain"
	"mapsync/internal/positions"
	"mapsync/internal/surface"
	"mapsync/pkg/routing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testDispatcher queues foreground work for the test goroutine to run
type testDispatcher struct {
	tasks chan func()
}

func newTestDispatcher() *testDispatcher {
	return &testDispatcher{tasks: make(chan func(), 1<<16)}
}

func (d *testDispatcher) Dispatch(fn func()) {
	d.tasks <- fn
}

// drainUntil runs dispatched work until cond holds
func (d *testDispatcher) drainUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case fn := <-d.tasks:
			fn()
		case <-deadline:
			t.Fatalf("condition not reached before deadline")
		}
	}
}

// drainFor runs dispatched work for the given time
func (d *testDispatcher) drainFor(wait time.Duration) {
	deadline := time.After(wait)
	for {
		select {
		case fn := <-d.tasks:
			fn()
		case <-deadline:
			return
		}
	}
}

type recordingNotifier struct {
	metrics     []domain.Metrics
	recenters   []orb.Bound
	centers     []orb.Point
	errors      []error
	downloads   int
	processings int
}

func (n *recordingNotifier) MetricsChanged(m domain.Metrics) { n.metrics = append(n.metrics, m) }
func (n *recordingNotifier) Recenter(b orb.Bound)            { n.recenters = append(n.recenters, b) }
func (n *recordingNotifier) Center(p orb.Point)              { n.centers = append(n.centers, p) }
func (n *recordingNotifier) RoutingError(err error)          { n.errors = append(n.errors, err) }
func (n *recordingNotifier) DownloadStarted()                { n.downloads++ }
func (n *recordingNotifier) ProcessingStarted()              { n.processings++ }

func (n *recordingNotifier) lastMetrics() domain.Metrics {
	if len(n.metrics) == 0 {
		return domain.Metrics{}
	}
	return n.metrics[len(n.metrics)-1]
}

// fakeService is a controllable routing backend
type fakeService struct {
	name        string
	initialized atomic.Bool
	calls       atomic.Int64
	downloads   atomic.Int64
	processings atomic.Int64

	download           bool
	requiresDownload   bool
	requiresProcessing bool

	mu      sync.Mutex
	err     error
	result  func(from, to orb.Point) routing.Result
	started chan struct{}
	release chan struct{}
}

func newFakeService(initialized bool) *fakeService {
	s := &fakeService{name: "fake"}
	s.initialized.Store(initialized)
	s.result = func(from, to orb.Point) routing.Result {
		mid := orb.Point{(from.Lon() + to.Lon()) / 2, (from.Lat() + to.Lat()) / 2}
		return routing.Result{
			Path:     orb.LineString{from, mid, to},
			Distance: geo.DistanceHaversine(from, to) * 1.2,
			Duration: time.Minute,
			Valid:    true,
		}
	}
	return s
}

func (s *fakeService) Name() string        { return s.name }
func (s *fakeService) IsInitialized() bool { return s.initialized.Load() }
func (s *fakeService) IsDownload() bool    { return s.download }
func (s *fakeService) AvailableTravelModes() []routing.TravelMode {
	return []routing.TravelMode{routing.ModeCar}
}
func (s *fakeService) PreferredTravelMode() routing.TravelMode { return routing.ModeCar }

func (s *fakeService) DownloadRoutingDataFor(ctx context.Context, points []orb.Point) (routing.DownloadFuture, error) {
	return &fakeFuture{service: s}, nil
}

func (s *fakeService) RouteBetween(ctx context.Context, from, to orb.Point, mode routing.TravelMode) (routing.Result, error) {
	s.calls.Add(1)

	s.mu.Lock()
	err, result, started, release := s.err, s.result, s.started, s.release
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return routing.Result{}, err
	}
	return result(from, to), nil
}

type fakeFuture struct {
	service *fakeService
}

func (f *fakeFuture) RequiresDownload() bool { return f.service.requiresDownload }
func (f *fakeFuture) Download(ctx context.Context) error {
	f.service.downloads.Add(1)
	return nil
}
func (f *fakeFuture) RequiresProcessing() bool { return f.service.requiresProcessing }
func (f *fakeFuture) Process(ctx context.Context) error {
	f.service.processings.Add(1)
	return nil
}

type harness struct {
	engine     *Engine
	list       *positions.List
	surface    *surface.Layers
	dispatcher *testDispatcher
	notifier   *recordingNotifier
	provider   *routing.Switch
}

func newHarness(t *testing.T, c domain.Characteristics, service routing.Service, ps ...*domain.Position) *harness {
	t.Helper()
	return newHarnessWithOptions(t, c, service, RouteOptions{InitPoll: time.Millisecond, InitTimeout: 5 * time.Second}, ps...)
}

func newHarnessWithOptions(t *testing.T, c domain.Characteristics, service routing.Service, opts RouteOptions, ps ...*domain.Position) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		list:       positions.New(ps...),
		surface:    surface.New(14, nil),
		dispatcher: newTestDispatcher(),
		notifier:   &recordingNotifier{},
		provider:   routing.NewSwitch(service, routing.ModeCar),
	}

	engine, err := NewEngine(ctx, h.list, h.surface, h.provider, h.dispatcher, h.notifier, Options{
		Characteristics:              c,
		ShowAllPositionsAfterLoading: true,
		Route:                        opts,
	}, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	if err := engine.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return h
}

func (h *harness) count(kind domain.ElementKind) int {
	return h.surface.CountByKind()[kind]
}

func (h *harness) allRouted() bool {
	pairs := h.engine.Routes.Pairs()
	for _, p := range pairs {
		if !p.State.terminal() {
			return false
		}
	}
	return true
}

// assertPairsMatchList checks pairs against the adjacent rows of the list
func assertPairsMatchList(t *testing.T, u *TrackUpdater, list *positions.List) {
	t.Helper()
	pairs := u.Pairs()
	want := max(list.Len()-1, 0)
	if len(pairs) != want {
		t.Fatalf("expected %d pairs for %d positions, got %d", want, list.Len(), len(pairs))
	}
	for i, p := range pairs {
		if p.First != list.At(i) || p.Second != list.At(i+1) {
			t.Fatalf("pair %d does not join rows %d and %d", i, i, i+1)
		}
	}
}
