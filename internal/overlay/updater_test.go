package overlay

import (
	"bytes"
	"log/slog"
	"math/rand"
	"testing"

	"mapsync/internal/domain"
	"mapsync/internal/positions"
	"mapsync/internal/surface"
)

// countingPairOperation records how many pairs each call received
type countingPairOperation struct {
	added, updated, removed int
}

func (o *countingPairOperation) Add(pairs []*PairWithLayer)    { o.added += len(pairs) }
func (o *countingPairOperation) Update(pairs []*PairWithLayer) { o.updated += len(pairs) }
func (o *countingPairOperation) Remove(pairs []*PairWithLayer) { o.removed += len(pairs) }

func abc() []*domain.Position {
	return []*domain.Position{
		domain.NewPosition(0, 0, "A"),
		domain.NewPosition(0.01, 0.01, "B"),
		domain.NewPosition(0.02, 0.02, "C"),
	}
}

func TestInsertInteriorRemovesOneCreatesTwo(t *testing.T) {
	list := positions.New(abc()...)
	op := &countingPairOperation{}
	u := NewTrackUpdater(list, op)
	list.Subscribe(func(ev domain.ChangeEvent) {
		if ev.Type == domain.ChangeInsert {
			u.HandleAdd(ev.FirstRow, ev.LastRow)
		}
	})
	u.HandleAdd(0, list.Len()-1)
	*op = countingPairOperation{}

	if err := list.Insert(1, domain.NewPosition(0.005, 0.005, "X")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if op.removed != 1 || op.added != 2 {
		t.Fatalf("expected 1 removed and 2 added, got %d and %d", op.removed, op.added)
	}
	assertPairsMatchList(t, u, list)

	*op = countingPairOperation{}
	if err := list.Insert(0, domain.NewPosition(-0.01, -0.01, "S")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if op.removed != 0 || op.added != 1 {
		t.Fatalf("insert at start: expected 0 removed and 1 added, got %d and %d", op.removed, op.added)
	}

	*op = countingPairOperation{}
	if err := list.Insert(list.Len(), domain.NewPosition(0.03, 0.03, "E")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if op.removed != 0 || op.added != 1 {
		t.Fatalf("append: expected 0 removed and 1 added, got %d and %d", op.removed, op.added)
	}
	assertPairsMatchList(t, u, list)
}

func TestTrackDeleteJoinsNeighbours(t *testing.T) {
	h := newHarness(t, domain.Track, newFakeService(true), abc()...)
	a, c := h.list.At(0), h.list.At(2)

	if got := h.count(domain.ElementTrack); got != 2 {
		t.Fatalf("expected 2 track lines, got %d", got)
	}

	if err := h.list.Remove([]int{1}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	pairs := h.engine.Track.Pairs()
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].First != a || pairs[0].Second != c {
		t.Fatalf("expected pair A-C, got %s-%s", pairs[0].First.Description, pairs[0].Second.Description)
	}
	if got := h.count(domain.ElementTrack); got != 1 {
		t.Fatalf("expected 1 track line, got %d", got)
	}
}

func TestPairCountInvariantUnderRandomEdits(t *testing.T) {
	for _, c := range []domain.Characteristics{domain.Track, domain.Route} {
		t.Run(c.String(), func(t *testing.T) {
			h := newHarness(t, c, newFakeService(true))
			updater := h.engine.Track
			kind := domain.ElementTrack
			if c == domain.Route {
				updater = h.engine.Routes
				kind = domain.ElementBeeline
			}

			rnd := rand.New(rand.NewSource(42))
			for step := 0; step < 300; step++ {
				n := h.list.Len()
				switch op := rnd.Intn(4); {
				case op <= 1 || n == 0:
					count := 1 + rnd.Intn(3)
					ps := make([]*domain.Position, count)
					for i := range ps {
						ps[i] = domain.NewPosition(rnd.Float64(), rnd.Float64(), "")
					}
					if err := h.list.Insert(rnd.Intn(n+1), ps...); err != nil {
						t.Fatalf("insert: %v", err)
					}
				case op == 2:
					rows := []int{rnd.Intn(n)}
					if rnd.Intn(2) == 0 {
						rows = append(rows, rnd.Intn(n))
					}
					if err := h.list.Remove(rows); err != nil {
						t.Fatalf("remove: %v", err)
					}
				default:
					lon := rnd.Float64()
					if err := h.list.Edit(rnd.Intn(n), positions.Edit{Longitude: &lon}); err != nil {
						t.Fatalf("edit: %v", err)
					}
				}

				assertPairsMatchList(t, updater, h.list)
				if c == domain.Route {
					h.dispatcher.drainFor(0)
					if got := h.count(domain.ElementBeeline) + h.count(domain.ElementRoute) + h.count(domain.ElementInvalidRoute); got != max(h.list.Len()-1, 0) {
						t.Fatalf("step %d: expected %d connectors, got %d", step, max(h.list.Len()-1, 0), got)
					}
				} else if got := h.count(kind); got != max(h.list.Len()-1, 0) {
					t.Fatalf("step %d: expected %d connectors, got %d", step, max(h.list.Len()-1, 0), got)
				}
			}
		})
	}
}

func TestAddThenRemoveRestoresHandleCount(t *testing.T) {
	for _, c := range []domain.Characteristics{domain.Waypoints, domain.Track, domain.Route} {
		t.Run(c.String(), func(t *testing.T) {
			h := newHarness(t, c, newFakeService(false), abc()...)
			before := h.surface.Count()

			var updater Updater
			switch c {
			case domain.Waypoints:
				updater = h.engine.Waypoints
			case domain.Track:
				updater = h.engine.Track
			default:
				updater = h.engine.Routes
			}

			updater.HandleRemove(0, End)
			if got := h.surface.Count(); got != 0 {
				t.Fatalf("expected empty surface after remove, got %d", got)
			}
			updater.HandleAdd(0, h.list.Len()-1)
			if got := h.surface.Count(); got != before {
				t.Fatalf("expected %d handles, got %d", before, got)
			}
		})
	}
}

func TestWaypointsSkipPositionsWithoutCoordinates(t *testing.T) {
	ps := []*domain.Position{
		domain.NewPosition(0, 0, "A"),
		{Description: "unknown"},
		domain.NewPosition(1, 1, "C"),
	}
	h := newHarness(t, domain.Waypoints, newFakeService(true), ps...)

	if got := len(h.engine.Waypoints.Entries()); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if got := h.count(domain.ElementWaypoint); got != 2 {
		t.Fatalf("expected 2 markers, got %d", got)
	}

	lon, lat := 0.5, 0.5
	if err := h.list.Edit(1, positions.Edit{Longitude: &lon, Latitude: &lat}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := h.count(domain.ElementWaypoint); got != 3 {
		t.Fatalf("expected 3 markers after coordinates were set, got %d", got)
	}
}

func TestUpdateIgnoresNonGeometryColumns(t *testing.T) {
	h := newHarness(t, domain.Waypoints, newFakeService(true), abc()...)
	entry := h.engine.Waypoints.Entries()[0]
	handle := entry.Layer

	elevation := 100.0
	if err := h.list.Edit(0, positions.Edit{Elevation: &elevation}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if entry.Layer != handle {
		t.Fatalf("elevation change must not recreate the marker")
	}

	desc := "renamed"
	if err := h.list.Edit(0, positions.Edit{Description: &desc}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if entry.Layer == handle {
		t.Fatalf("description change must recreate the marker")
	}
	el, ok := h.surface.Get(entry.Layer)
	if !ok || el.Label != "renamed" {
		t.Fatalf("expected relabelled marker, got %+v", el)
	}
}

func TestFirstCoordinatesDrawWithoutWarning(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	layers := surface.New(14, nil)
	selection := NewSelectionUpdater(positions.New(), layers, NopNotifier{}, logger)

	a := &domain.Position{Description: "A"}
	b := domain.NewPosition(0.01, 0.01, "B")
	entry := &PositionWithLayer{Position: a}
	pair := &PairWithLayer{First: a, Second: b}

	waypoints := NewWaypointOperation(layers, selection, logger)
	track := NewTrackOperation(layers, selection, logger)
	waypoints.Add([]*PositionWithLayer{entry})
	track.Add([]*PairWithLayer{pair})
	if entry.HasLayer() || pair.HasLayer() {
		t.Fatalf("nothing must be drawn without coordinates")
	}

	lon, lat := 0.0, 0.0
	a.Longitude, a.Latitude = &lon, &lat
	waypoints.Update([]*PositionWithLayer{entry})
	track.Update([]*PairWithLayer{pair})

	if !entry.HasLayer() || !pair.HasLayer() {
		t.Fatalf("expected marker and line once coordinates are set")
	}
	if logs.Len() != 0 {
		t.Fatalf("unexpected warning: %s", logs.String())
	}
}
