// Package intervalset implements a disjoint, sorted set of half-open byte
// ranges, used by the destination handler to track received file content
// and derive the NAK list as its complement. Grounded on the reference
// implementation's LostSegmentTracker: ranges merge on insert, and removal
// requires an exact, fully-covered span.
package intervalset

import (
	"fmt"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
)

// Set holds a sorted, disjoint collection of half-open ranges [Start, End).
type Set struct {
	ranges []cfdp.ByteRange
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Ranges returns the set's ranges in sorted order. The slice is owned by
// the caller; mutating it does not affect the Set.
func (s *Set) Ranges() []cfdp.ByteRange {
	out := make([]cfdp.ByteRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// IsEmpty reports whether the set holds no ranges.
func (s *Set) IsEmpty() bool { return len(s.ranges) == 0 }

// Add inserts [start, end) into the set, merging with any overlapping or
// adjacent existing ranges. A zero-length range is a no-op.
func (s *Set) Add(start, end uint64) {
	if end <= start {
		return
	}
	merged := cfdp.ByteRange{Start: start, End: end}
	result := make([]cfdp.ByteRange, 0, len(s.ranges)+1)

	i := 0
	for i < len(s.ranges) && s.ranges[i].End < merged.Start {
		result = append(result, s.ranges[i])
		i++
	}
	for i < len(s.ranges) && s.ranges[i].Start <= merged.End {
		if s.ranges[i].Start < merged.Start {
			merged.Start = s.ranges[i].Start
		}
		if s.ranges[i].End > merged.End {
			merged.End = s.ranges[i].End
		}
		i++
	}
	result = append(result, merged)
	for i < len(s.ranges) {
		result = append(result, s.ranges[i])
		i++
	}
	s.ranges = result
}

// Remove deletes the exact span [start, end) from the set. It is an error
// to request removal of a span not fully covered by a single contiguous
// stretch of the set. The destination handler does not call Remove; its
// received set only grows.
func (s *Set) Remove(start, end uint64) error {
	if end <= start {
		return nil
	}
	for i, r := range s.ranges {
		if r.Start <= start && end <= r.End {
			var before, after *cfdp.ByteRange
			if r.Start < start {
				before = &cfdp.ByteRange{Start: r.Start, End: start}
			}
			if end < r.End {
				after = &cfdp.ByteRange{Start: end, End: r.End}
			}
			replacement := make([]cfdp.ByteRange, 0, len(s.ranges)+1)
			replacement = append(replacement, s.ranges[:i]...)
			if before != nil {
				replacement = append(replacement, *before)
			}
			if after != nil {
				replacement = append(replacement, *after)
			}
			replacement = append(replacement, s.ranges[i+1:]...)
			s.ranges = replacement
			return nil
		}
	}
	return fmt.Errorf("intervalset: remove span [%d,%d) not fully covered by a single existing range", start, end)
}

// Complement returns the sorted, disjoint ranges covering [0, bound) that
// are NOT present in the set — the NAK list for a receiver whose declared
// file size is bound.
func (s *Set) Complement(bound uint64) []cfdp.ByteRange {
	var gaps []cfdp.ByteRange
	var cursor uint64
	for _, r := range s.ranges {
		if r.Start > cursor {
			gaps = append(gaps, cfdp.ByteRange{Start: cursor, End: r.Start})
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	if cursor < bound {
		gaps = append(gaps, cfdp.ByteRange{Start: cursor, End: bound})
	}
	return gaps
}

// Covers reports whether [0, bound) is entirely contained in the set, i.e.
// there are no gaps below bound.
func (s *Set) Covers(bound uint64) bool {
	var cursor uint64
	for _, r := range s.ranges {
		if r.Start > cursor {
			return false
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	return cursor >= bound
}
