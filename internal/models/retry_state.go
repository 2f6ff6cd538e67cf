package models

import "time"

// ErrorCategory is the fixed taxonomy that the error classifier (C3) maps
// every raw cause onto (§3, §7).
type ErrorCategory int

const (
	CategoryNetworkTransient ErrorCategory = iota
	CategorySegmentCorruption
	CategoryDecodeFailure
	CategoryMediaSourceFailure
	CategoryFatalIncompatibility
	CategoryKeySystem
	CategoryUnknown
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetworkTransient:
		return "NetworkTransient"
	case CategorySegmentCorruption:
		return "SegmentCorruption"
	case CategoryDecodeFailure:
		return "DecodeFailure"
	case CategoryMediaSourceFailure:
		return "MediaSourceFailure"
	case CategoryFatalIncompatibility:
		return "FatalIncompatibility"
	case CategoryKeySystem:
		return "KeySystem"
	case CategoryUnknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

// Severity classifies how disruptive a PlayerError is (§3).
type Severity int

const (
	SeverityWarn Severity = iota
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "error"
	}
}

// RetryState tracks retry attempts for one (category, code) pair (§3, §4.2).
type RetryState struct {
	Attempt         int
	MaxAttempts     int
	BaseDelayMs     int64
	MaxDelayMs      int64
	Exponential     bool
	JitterFactor    float64 // in [0, 1]
	LastError       error
	LastAttemptTime time.Time
}

// CanRetry reports whether another attempt is permitted (§4.2): attempt < maxAttempts.
func (s *RetryState) CanRetry() bool {
	return s.Attempt < s.MaxAttempts
}

// Reset clears the attempt counter and last-error bookkeeping (§4.2).
func (s *RetryState) Reset() {
	s.Attempt = 0
	s.LastError = nil
	s.LastAttemptTime = time.Time{}
}

// Record increments the attempt counter, stores cause, and stamps
// LastAttemptTime (§4.2).
func (s *RetryState) Record(cause error, now time.Time) {
	s.Attempt++
	s.LastError = cause
	s.LastAttemptTime = now
}
