package models

import "fmt"

// PlayerError is the normalized error shape produced by the classifier (C3)
// from a raw adapter/browser cause (§3, §7). Code is the classifier's
// stable code string (e.g. "NetworkTimeout"), which hosts and logs can
// match on; the error controller (C8) keys retry state on category plus
// code.
type PlayerError struct {
	Category    ErrorCategory
	Code        string
	Message     string
	Severity    Severity
	Recoverable bool
	Cause       error
}

func (e *PlayerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
}

func (e *PlayerError) Unwrap() error {
	return e.Cause
}

// Key identifies the RetryState bucket this error belongs to in the error
// controller (C8): one bucket per (category, code) pair (§4.8).
func (e *PlayerError) Key() string {
	return e.Category.String() + "/" + e.Code
}
