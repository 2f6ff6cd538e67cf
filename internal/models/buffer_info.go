package models

// BufferInfo is the derived buffer snapshot emitted by the buffer
// accountant (C5) on bufferupdate (§3).
type BufferInfo struct {
	Ranges         []BufferedRange
	CurrentTime    float64
	ForwardBuffer  float64
	BackwardBuffer float64
	TargetBuffer   float64
	MaxBuffer      float64
}

// DeriveBufferInfo computes forward/backward buffer from the containing
// range, per §3: if currentTime falls within some range r,
// forwardBuffer = r.End - currentTime and backwardBuffer = currentTime - r.Start;
// otherwise both are zero.
func DeriveBufferInfo(currentTime float64, ranges []BufferedRange, targetBuffer, maxBuffer float64) BufferInfo {
	info := BufferInfo{
		Ranges:       ranges,
		CurrentTime:  currentTime,
		TargetBuffer: targetBuffer,
		MaxBuffer:    maxBuffer,
	}
	if r, ok := FindContaining(ranges, currentTime); ok {
		info.ForwardBuffer = r.End - currentTime
		info.BackwardBuffer = currentTime - r.Start
	}
	return info
}
