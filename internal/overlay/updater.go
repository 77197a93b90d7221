package overlay

// Updater keeps derived map state in sync with one interpretation of the
// position list. Rows refer to the list after the change was applied.
type Updater interface {
	HandleAdd(firstRow, lastRow int)
	HandleUpdate(firstRow, lastRow int)
	HandleRemove(firstRow, lastRow int)
}

// PositionOperation renders per-position entries
type PositionOperation interface {
	Add(entries []*PositionWithLayer)
	Update(entries []*PositionWithLayer)
	Remove(entries []*PositionWithLayer)
}

// PairOperation renders per-pair entries
type PairOperation interface {
	Add(pairs []*PairWithLayer)
	Update(pairs []*PairWithLayer)
	Remove(pairs []*PairWithLayer)
}

// WaypointUpdater holds one entry per list row
type WaypointUpdater struct {
	list    PositionSource
	op      PositionOperation
	entries []*PositionWithLayer
}

func NewWaypointUpdater(list PositionSource, op PositionOperation) *WaypointUpdater {
	return &WaypointUpdater{list: list, op: op}
}

func (u *WaypointUpdater) HandleAdd(firstRow, lastRow int) {
	if !validRange(firstRow, lastRow) || firstRow > len(u.entries) {
		return
	}
	s := positionSpan(firstRow, lastRow, u.list.Len())
	if s.empty() {
		return
	}

	added := make([]*PositionWithLayer, 0, s.len())
	for row := s.from; row <= s.to; row++ {
		added = append(added, &PositionWithLayer{Position: u.list.At(row)})
	}
	u.entries = splice(u.entries, firstRow, 0, added)
	u.op.Add(added)
}

func (u *WaypointUpdater) HandleUpdate(firstRow, lastRow int) {
	s := positionSpan(firstRow, lastRow, len(u.entries))
	if s.empty() {
		return
	}

	updated := make([]*PositionWithLayer, 0, s.len())
	for row := s.from; row <= s.to; row++ {
		e := u.entries[row]
		if p := u.list.At(row); p != nil {
			e.Position = p
		}
		updated = append(updated, e)
	}
	u.op.Update(updated)
}

func (u *WaypointUpdater) HandleRemove(firstRow, lastRow int) {
	s := positionSpan(firstRow, lastRow, len(u.entries))
	if s.empty() {
		return
	}

	removed := append([]*PositionWithLayer(nil), u.entries[s.from:s.to+1]...)
	u.entries = splice(u.entries, s.from, s.len(), nil)
	u.op.Remove(removed)
}

// Entries returns a copy of the current entries
func (u *WaypointUpdater) Entries() []*PositionWithLayer {
	return append([]*PositionWithLayer(nil), u.entries...)
}

// TrackUpdater holds one entry per pair of consecutive rows. The route mode
// uses it too, with a routing operation.
type TrackUpdater struct {
	list  PositionSource
	op    PairOperation
	pairs []*PairWithLayer
}

func NewTrackUpdater(list PositionSource, op PairOperation) *TrackUpdater {
	return &TrackUpdater{list: list, op: op}
}

func (u *TrackUpdater) HandleAdd(firstRow, lastRow int) {
	remove, add := pairInsertSpans(firstRow, lastRow, len(u.pairs), u.list.Len())
	u.apply(remove, add)
}

func (u *TrackUpdater) HandleUpdate(firstRow, lastRow int) {
	s := pairUpdateSpan(firstRow, lastRow, len(u.pairs))
	if s.empty() {
		return
	}

	updated := make([]*PairWithLayer, 0, s.len())
	for i := s.from; i <= s.to; i++ {
		pair := u.pairs[i]
		if first, second := u.list.At(i), u.list.At(i+1); first != nil && second != nil {
			pair.First, pair.Second = first, second
		}
		updated = append(updated, pair)
	}
	u.op.Update(updated)
}

func (u *TrackUpdater) HandleRemove(firstRow, lastRow int) {
	remove, add := pairRemoveSpans(firstRow, lastRow, len(u.pairs), u.list.Len())
	u.apply(remove, add)
}

func (u *TrackUpdater) apply(remove, add span) {
	if remove.empty() && add.empty() {
		return
	}

	var removed []*PairWithLayer
	at := add.from
	if !remove.empty() {
		removed = append(removed, u.pairs[remove.from:remove.to+1]...)
		at = remove.from
	}
	at = min(at, len(u.pairs))

	added := make([]*PairWithLayer, 0, add.len())
	for i := add.from; i <= add.to; i++ {
		added = append(added, &PairWithLayer{First: u.list.At(i), Second: u.list.At(i + 1)})
	}

	u.pairs = splice(u.pairs, at, remove.len(), added)
	if len(removed) > 0 {
		u.op.Remove(removed)
	}
	if len(added) > 0 {
		u.op.Add(added)
	}
}

// Pairs returns a copy of the current pairs
func (u *TrackUpdater) Pairs() []*PairWithLayer {
	return append([]*PairWithLayer(nil), u.pairs...)
}

// splice replaces count items at index with insert
func splice[T any](s []T, index, count int, insert []T) []T {
	result := make([]T, 0, len(s)-count+len(insert))
	result = append(result, s[:index]...)
	result = append(result, insert...)
	result = append(result, s[index+count:]...)
	return result
}
