package overlay

import (
	"log/slog"

	"mapsync/internal/domain"
)

// SelectionUpdater keeps highlight markers for the selected positions
type SelectionUpdater struct {
	list     PositionSource
	surface  Surface
	notifier Notifier
	entries  []*PositionWithLayer
	logger   *slog.Logger
}

func NewSelectionUpdater(list PositionSource, surface Surface, notifier Notifier, logger *slog.Logger) *SelectionUpdater {
	return &SelectionUpdater{
		list:     list,
		surface:  surface,
		notifier: notifier,
		logger:   logger.With("component", "selection"),
	}
}

// SetSelectedPositions selects the given rows. With replace, rows not listed lose
// their highlight; otherwise the selection grows. Unknown rows are ignored.
func (s *SelectionUpdater) SetSelectedPositions(rows []int, replace bool) {
	wanted := make(map[*domain.Position]struct{}, len(rows))
	var ordered []*domain.Position
	for _, row := range rows {
		p := s.list.At(row)
		if p == nil {
			continue
		}
		if _, ok := wanted[p]; ok {
			continue
		}
		wanted[p] = struct{}{}
		ordered = append(ordered, p)
	}

	current := make(map[*domain.Position]struct{}, len(s.entries))
	var kept, removed []*PositionWithLayer
	for _, e := range s.entries {
		current[e.Position] = struct{}{}
		if _, ok := wanted[e.Position]; replace && !ok {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}

	var added []*PositionWithLayer
	for _, p := range ordered {
		if _, ok := current[p]; ok {
			continue
		}
		added = append(added, &PositionWithLayer{Position: p})
	}

	for _, e := range removed {
		removeMarker(s.surface, e, s.logger)
	}
	s.entries = append(kept, added...)

	var last *PositionWithLayer
	for _, e := range added {
		if addMarker(s.surface, e, domain.ElementSelection) {
			last = e
		}
	}
	if last != nil {
		s.notifier.Center(last.Position.Point())
	}
}

// UpdatedPositions moves the highlights of affected selected positions
func (s *SelectionUpdater) UpdatedPositions(ps []*domain.Position) {
	affected := asSet(ps)
	for _, e := range s.entries {
		if _, ok := affected[e.Position]; !ok {
			continue
		}
		s.refresh(e)
	}
}

// RemovedPositions drops highlights of positions that left the list and
// refreshes those still present
func (s *SelectionUpdater) RemovedPositions(ps []*domain.Position) {
	affected := asSet(ps)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if _, ok := affected[e.Position]; !ok {
			kept = append(kept, e)
			continue
		}
		if s.list.IndexOf(e.Position) < 0 {
			removeMarker(s.surface, e, s.logger)
			continue
		}
		s.refresh(e)
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
}

// Prune drops highlights of positions no longer in the list
func (s *SelectionUpdater) Prune() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if s.list.IndexOf(e.Position) >= 0 {
			kept = append(kept, e)
			continue
		}
		removeMarker(s.surface, e, s.logger)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
}

func (s *SelectionUpdater) refresh(e *PositionWithLayer) {
	removeMarker(s.surface, e, s.logger)
	addMarker(s.surface, e, domain.ElementSelection)
}

// PositionWithLayers returns the selection in selection order
func (s *SelectionUpdater) PositionWithLayers() []*PositionWithLayer {
	return append([]*PositionWithLayer(nil), s.entries...)
}

// SelectedRows returns the list rows of the selection in selection order
func (s *SelectionUpdater) SelectedRows() []int {
	rows := make([]int, 0, len(s.entries))
	for _, e := range s.entries {
		if row := s.list.IndexOf(e.Position); row >= 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

func asSet(ps []*domain.Position) map[*domain.Position]struct{} {
	set := make(map[*domain.Position]struct{}, len(ps))
	for _, p := range ps {
		set[p] = struct{}{}
	}
	return set
}
