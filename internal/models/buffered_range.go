package models

import "sort"

// BufferedRange is a contiguous span of buffered media, in seconds (§3).
// Within a BufferedRange set, ranges are pairwise disjoint and sorted
// ascending by Start.
type BufferedRange struct {
	Start float64
	End   float64
}

// Duration returns the length of the range in seconds.
func (r BufferedRange) Duration() float64 {
	return r.End - r.Start
}

// Contains reports whether t falls within [Start, End].
func (r BufferedRange) Contains(t float64) bool {
	return t >= r.Start && t <= r.End
}

// NormalizeRanges sorts ranges ascending and merges any that overlap or
// touch, restoring the §3 invariant that a range set is pairwise disjoint
// and sorted. Video sinks report buffered ranges that are already disjoint
// in practice, but the buffer accountant (C5) normalizes defensively since
// it is handed raw sink state on every timeupdate.
func NormalizeRanges(ranges []BufferedRange) []BufferedRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]BufferedRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := make([]BufferedRange, 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	return merged
}

// TotalDuration sums the duration of every range in the set.
func TotalDuration(ranges []BufferedRange) float64 {
	var total float64
	for _, r := range ranges {
		total += r.Duration()
	}
	return total
}

// FindContaining returns the range containing currentTime, if any.
func FindContaining(ranges []BufferedRange, currentTime float64) (BufferedRange, bool) {
	for _, r := range ranges {
		if r.Contains(currentTime) {
			return r, true
		}
	}
	return BufferedRange{}, false
}
