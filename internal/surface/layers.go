package surface

import (
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapsync/internal/domain"
	"mapsync/pkg/tiles"
)

// maxBoxTiles bounds how many bounding box tiles a connector is indexed under
const maxBoxTiles = 64

// Broadcaster receives element deltas as they happen
type Broadcaster interface {
	Broadcast(deltas []domain.ElementDelta)
}

type entry struct {
	element domain.Element
	tileIDs []string
}

// Layers is the visual surface: the set of markers and connectors currently
// placed on the map, indexed by tile and kind.
type Layers struct {
	mu       sync.RWMutex
	elements map[domain.Handle]*entry
	byTile   map[string]map[domain.Handle]struct{}
	byKind   map[domain.ElementKind]map[domain.Handle]struct{}

	zoom        int
	broadcaster Broadcaster
}

func New(zoom int, broadcaster Broadcaster) *Layers {
	return &Layers{
		elements:    make(map[domain.Handle]*entry),
		byTile:      make(map[string]map[domain.Handle]struct{}),
		byKind:      make(map[domain.ElementKind]map[domain.Handle]struct{}),
		zoom:        zoom,
		broadcaster: broadcaster,
	}
}

// Add places an element and returns its handle
func (s *Layers) Add(el domain.Element) domain.Handle {
	h := domain.Handle(uuid.NewString())
	el.Path = append(orb.LineString(nil), el.Path...)
	tileIDs := tiles.ForPoints(el.Path, s.zoom, maxBoxTiles)

	s.mu.Lock()
	s.elements[h] = &entry{element: el, tileIDs: tileIDs}
	for _, id := range tileIDs {
		addToIndex(s.byTile, id, h)
	}
	addToIndex(s.byKind, el.Kind, h)
	s.mu.Unlock()

	s.broadcast(domain.ElementDelta{Type: domain.DeltaAdd, Handle: h, Element: &el, TileIDs: tileIDs})
	return h
}

// Remove takes an element off the map; false if the handle is unknown
func (s *Layers) Remove(h domain.Handle) bool {
	s.mu.Lock()
	e, ok := s.elements[h]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.elements, h)
	for _, id := range e.tileIDs {
		removeFromIndex(s.byTile, id, h)
	}
	removeFromIndex(s.byKind, e.element.Kind, h)
	s.mu.Unlock()

	s.broadcast(domain.ElementDelta{Type: domain.DeltaRemove, Handle: h, TileIDs: e.tileIDs})
	return true
}

func (s *Layers) Get(h domain.Handle) (domain.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elements[h]
	if !ok {
		return domain.Element{}, false
	}
	return copyElement(e.element), true
}

func (s *Layers) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}

func (s *Layers) CountByKind() map[domain.ElementKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.ElementKind]int, len(s.byKind))
	for kind, handles := range s.byKind {
		counts[kind] = len(handles)
	}
	return counts
}

// Snapshot returns all elements keyed by handle
func (s *Layers) Snapshot() map[domain.Handle]domain.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[domain.Handle]domain.Element, len(s.elements))
	for h, e := range s.elements {
		result[h] = copyElement(e.element)
	}
	return result
}

// SnapshotForTiles returns add deltas for every element touching the tiles
func (s *Layers) SnapshotForTiles(tileIDs []string) []domain.ElementDelta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Handle]struct{})
	var result []domain.ElementDelta
	for _, tileID := range tileIDs {
		for h := range s.byTile[tileID] {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			e := s.elements[h]
			el := copyElement(e.element)
			result = append(result, domain.ElementDelta{
				Type:    domain.DeltaAdd,
				Handle:  h,
				Element: &el,
				TileIDs: append([]string(nil), e.tileIDs...),
			})
		}
	}
	return result
}

// FeatureCollection renders the surface as GeoJSON
func (s *Layers) FeatureCollection() *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for h, e := range s.elements {
		var f *geojson.Feature
		if e.element.Kind.IsMarker() && len(e.element.Path) > 0 {
			f = geojson.NewFeature(e.element.Path[0])
		} else {
			f = geojson.NewFeature(append(orb.LineString(nil), e.element.Path...))
		}
		f.ID = string(h)
		f.Properties["kind"] = string(e.element.Kind)
		if e.element.Label != "" {
			f.Properties["label"] = e.element.Label
		}
		fc.Append(f)
	}
	return fc
}

func (s *Layers) broadcast(d domain.ElementDelta) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast([]domain.ElementDelta{d})
}

func copyElement(el domain.Element) domain.Element {
	el.Path = append(orb.LineString(nil), el.Path...)
	return el
}

func addToIndex[K comparable](index map[K]map[domain.Handle]struct{}, key K, h domain.Handle) {
	if index[key] == nil {
		index[key] = make(map[domain.Handle]struct{})
	}
	index[key][h] = struct{}{}
}

func removeFromIndex[K comparable](index map[K]map[domain.Handle]struct{}, key K, h domain.Handle) {
	if index[key] != nil {
		delete(index[key], h)
		if len(index[key]) == 0 {
			delete(index, key)
		}
	}
}
