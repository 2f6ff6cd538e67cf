package models

// MaxBandwidthHistory is the bounded history size for BandwidthSample (§3: "last N=10").
const MaxBandwidthHistory = 10

// BandwidthSample is a single instantaneous bandwidth measurement (§3).
type BandwidthSample struct {
	Bandwidth int64 // bits per second
	Timestamp int64 // unix milliseconds
}

// SegmentTiming is the ABR controller's input sample, derived by an adapter
// from a completed segment download (§3). Samples with DurationMs <= 0 are
// discarded by the session coordinator (C9) before they reach the ABR
// controller (C7), never backfilled with a guessed bitrate
// (see SPEC_FULL.md "MP4 bytes-buffered heuristic disabled").
type SegmentTiming struct {
	Bytes           int64
	DurationMs      int64
	SegmentDuration float64 // seconds of media the segment represents
}

// Bandwidth computes bits-per-second for the sample: bytes * 8 / (durationMs / 1000).
// Callers must first check DurationMs > 0.
func (t SegmentTiming) Bandwidth() int64 {
	if t.DurationMs <= 0 {
		return 0
	}
	seconds := float64(t.DurationMs) / 1000.0
	return int64(float64(t.Bytes) * 8.0 / seconds)
}
