package models

import "sort"

// QualityLevel is a discrete ABR quality variant (§3). The level set is
// immutable within a source session and is sorted ascending by Bitrate
// after assignment (SortLevels).
type QualityLevel struct {
	Index     int
	Bitrate   int64 // bits per second
	Width     int
	Height    int
	Codec     string // optional, empty if unknown
	FrameRate float64 // optional, 0 if unknown
	Label     string
}

// SortLevels returns a copy of levels sorted ascending by Bitrate, with
// Index reassigned to match the new ordering (§3: "sorted by ascending
// bitrate after assignment").
func SortLevels(levels []QualityLevel) []QualityLevel {
	sorted := make([]QualityLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bitrate < sorted[j].Bitrate })
	for i := range sorted {
		sorted[i].Index = i
	}
	return sorted
}
