package overlay

import "math"

// End addresses everything up to the last row
const End = math.MaxInt

// span is an inclusive index range; empty when to < from
type span struct {
	from, to int
}

var emptySpan = span{from: 0, to: -1}

func (s span) empty() bool {
	return s.to < s.from
}

func (s span) len() int {
	if s.empty() {
		return 0
	}
	return s.to - s.from + 1
}

func validRange(first, last int) bool {
	return first >= 0 && last >= first
}

// positionSpan clamps [first,last] to count held entries
func positionSpan(first, last, count int) span {
	if !validRange(first, last) {
		return emptySpan
	}
	return span{from: first, to: min(last, count-1)}
}

// pairInsertSpans computes which existing pair is broken up and which pairs are
// created after rows [first,last] were inserted into a list now holding size rows.
func pairInsertSpans(first, last, pairCount, size int) (remove, add span) {
	if !validRange(first, last) || first >= size {
		return emptySpan, emptySpan
	}
	last = min(last, size-1)

	remove = emptySpan
	if first > 0 && first-1 < pairCount {
		remove = span{from: first - 1, to: first - 1}
	}
	add = span{from: max(first-1, 0), to: min(last, size-2)}
	return remove, add
}

// pairRemoveSpans computes which pairs disappear and which pair joins the newly
// adjacent rows after rows [first,last] were removed from a list now holding size rows.
func pairRemoveSpans(first, last, pairCount, size int) (remove, add span) {
	if !validRange(first, last) || pairCount == 0 {
		return emptySpan, emptySpan
	}

	remove = span{from: max(first-1, 0), to: min(last, pairCount-1)}
	if remove.empty() {
		return emptySpan, emptySpan
	}
	add = emptySpan
	if first > 0 && first < size {
		add = span{from: first - 1, to: first - 1}
	}
	return remove, add
}

// pairUpdateSpan returns the pairs touching rows [first,last]
func pairUpdateSpan(first, last, pairCount int) span {
	if !validRange(first, last) || pairCount == 0 {
		return emptySpan
	}
	return span{from: max(first-1, 0), to: min(last, pairCount-1)}
}
