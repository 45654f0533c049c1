package schedule

import (
	"sort"
	"time"
)

// Range is a half-open [Start, End) time range.
type Range struct {
	Start time.Time
	End   time.Time
}

// IntervalSet holds sorted, non-overlapping ranges. The no-overlap
// invariant is a property of the structure itself: InsertIfFree refuses
// conflicting inserts, and Block merges instead of duplicating. A zero
// IntervalSet is ready to use.
type IntervalSet struct {
	ranges []Range
}

// Len returns the number of stored ranges.
func (s *IntervalSet) Len() int {
	return len(s.ranges)
}

// Ranges returns a copy of the stored ranges in order.
func (s *IntervalSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Conflicts reports whether [start, end) overlaps any stored range.
func (s *IntervalSet) Conflicts(start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	// First range ending after start is the only possible overlap start.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End.After(start)
	})
	return i < len(s.ranges) && s.ranges[i].Start.Before(end)
}

// InsertIfFree inserts [start, end) iff it overlaps nothing, keeping the
// set sorted. Returns false (and leaves the set unchanged) on conflict or
// an empty range.
func (s *IntervalSet) InsertIfFree(start, end time.Time) bool {
	if !start.Before(end) || s.Conflicts(start, end) {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Start.After(start)
	})
	s.ranges = append(s.ranges, Range{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = Range{Start: start, End: end}
	return true
}

// Block inserts [start, end) unconditionally, merging with any ranges it
// touches. Used for protected slots and keep-free reservations that must
// hold regardless of what is already tracked.
func (s *IntervalSet) Block(start, end time.Time) {
	if !start.Before(end) {
		return
	}
	merged := Range{Start: start, End: end}
	out := make([]Range, 0, len(s.ranges)+1)
	inserted := false
	for _, r := range s.ranges {
		switch {
		case r.End.Before(merged.Start):
			out = append(out, r)
		case r.Start.After(merged.End):
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			out = append(out, r)
		default:
			// Overlapping or adjacent: absorb into the merged range.
			if r.Start.Before(merged.Start) {
				merged.Start = r.Start
			}
			if r.End.After(merged.End) {
				merged.End = r.End
			}
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	s.ranges = out
}
