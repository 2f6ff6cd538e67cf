// Package classifier normalizes raw playback causes (HTTP statuses, native
// sink error names, append-surface failures) into models.PlayerError by way
// of a fixed lookup table, generalizing the cause-to-action lookup idiom
// used for relay fallback decisions (C3, §4.3).
package classifier

import (
	"strings"

	"github.com/avplayer/playcore/internal/models"
)

type (
	ErrorCategory = models.ErrorCategory
	Severity      = models.Severity
	PlayerError   = models.PlayerError
)

const (
	CategoryNetworkTransient     = models.CategoryNetworkTransient
	CategorySegmentCorruption    = models.CategorySegmentCorruption
	CategoryDecodeFailure        = models.CategoryDecodeFailure
	CategoryMediaSourceFailure   = models.CategoryMediaSourceFailure
	CategoryFatalIncompatibility = models.CategoryFatalIncompatibility
	CategoryKeySystem            = models.CategoryKeySystem
	CategoryUnknown              = models.CategoryUnknown

	SeverityWarn  = models.SeverityWarn
	SeverityError = models.SeverityError
	SeverityFatal = models.SeverityFatal
)

// code names a fixed point in the classification taxonomy (§4.3). Codes are
// stable strings so hosts and logs can match on them without importing this
// package's constants. The full set covers every code §4.3's taxonomy
// lists per category, not just the ones FromHTTPStatus/FromNativeName/
// FromMessage happen to produce.
const (
	// NetworkTransient
	CodeTimeout           = "NetworkTimeout"
	CodeNetworkOffline    = "NetworkOffline"
	CodeDNSFailure        = "DnsFailure"
	CodeConnectionRefused = "ConnectionRefused"
	CodeNetworkHTTPError  = "NetworkHttpError"
	CodeNetworkAborted    = "NetworkAborted"
	CodeSegmentMissing    = "SegmentMissing"
	CodeManifestLoadError = "ManifestLoadError"

	// SegmentCorruption
	CodeSegmentParseError  = "SegmentParseError"
	CodeSegmentInvalidData = "SegmentInvalidData"
	CodeSegmentRangeError  = "SegmentRangeError"
	CodeManifestParseError = "ManifestParseError"

	// DecodeFailure
	CodeDecodeVideoError = "DecodeVideoError"
	CodeDecodeAudioError = "DecodeAudioError"
	CodeDecodeMediaError = "DecodeMediaError"
	CodeDecodeError      = CodeDecodeMediaError

	// MediaSourceFailure
	CodeMseCreate         = "MseCreate"
	CodeSourceBufferError = "SourceBufferError"
	CodeAppendError       = "MseAppendError"
	CodeMseAppendError    = CodeAppendError
	CodeRemoveError       = "RemoveError"
	CodeEndOfStream       = "EndOfStream"
	CodeMseQuotaExceeded  = "MseQuotaExceeded"

	// FatalIncompatibility
	CodeCodecUnsupported    = "CodecNotSupported"
	CodeMseNotSupported     = "MseNotSupported"
	CodeHlsNotSupported     = "HlsNotSupported"
	CodeDashNotSupported    = "DashNotSupported"
	CodeBrowserNotSupported = "BrowserNotSupported"
	CodeCorsDenied          = "CorsDenied"
	CodeManifestInvalid     = "ManifestInvalid"

	// KeySystem
	CodeKeySystemError  = "KeySystemError"
	CodeKeySessionError = "KeySessionError"
	CodeLicenseError    = "LicenseError"

	// Unknown
	CodePlayerLoadError  = "PlayerLoadError"
	CodePlayerStateError = "PlayerStateError"
	CodePlayerDestroyed  = "PlayerDestroyed"
	CodeUnknown          = "Unknown"
)

type entry struct {
	category    ErrorCategory
	severity    Severity
	recoverable bool
}

// lookup is the fixed `ErrorCode -> {category, severity, recoverable}` table
// required by §4.3, populated for the full taxonomy rather than only the
// codes the From* helpers produce, so adapter-reported codes outside that
// convenience set (e.g. a key-system error) still classify correctly.
var lookup = map[string]entry{
	// NetworkTransient
	CodeTimeout:           {CategoryNetworkTransient, SeverityError, true},
	CodeNetworkOffline:    {CategoryNetworkTransient, SeverityError, true},
	CodeDNSFailure:        {CategoryNetworkTransient, SeverityError, true},
	CodeConnectionRefused: {CategoryNetworkTransient, SeverityError, true},
	CodeNetworkHTTPError:  {CategoryNetworkTransient, SeverityError, true},
	CodeNetworkAborted:    {CategoryNetworkTransient, SeverityWarn, true},
	CodeSegmentMissing:    {CategoryNetworkTransient, SeverityError, true},
	CodeManifestLoadError: {CategoryNetworkTransient, SeverityError, true},

	// SegmentCorruption
	CodeSegmentParseError:  {CategorySegmentCorruption, SeverityError, true},
	CodeSegmentInvalidData: {CategorySegmentCorruption, SeverityError, true},
	CodeSegmentRangeError:  {CategorySegmentCorruption, SeverityError, true},
	CodeManifestParseError: {CategorySegmentCorruption, SeverityError, true},

	// DecodeFailure
	CodeDecodeVideoError: {CategoryDecodeFailure, SeverityError, true},
	CodeDecodeAudioError: {CategoryDecodeFailure, SeverityError, true},
	CodeDecodeMediaError: {CategoryDecodeFailure, SeverityError, true},

	// MediaSourceFailure
	CodeMseCreate:         {CategoryMediaSourceFailure, SeverityError, true},
	CodeSourceBufferError: {CategoryMediaSourceFailure, SeverityError, true},
	CodeAppendError:       {CategoryMediaSourceFailure, SeverityError, true},
	CodeRemoveError:       {CategoryMediaSourceFailure, SeverityError, true},
	CodeEndOfStream:       {CategoryMediaSourceFailure, SeverityError, true},
	CodeMseQuotaExceeded:  {CategoryMediaSourceFailure, SeverityError, true},

	// FatalIncompatibility
	CodeCodecUnsupported:    {CategoryFatalIncompatibility, SeverityFatal, false},
	CodeMseNotSupported:     {CategoryFatalIncompatibility, SeverityFatal, false},
	CodeHlsNotSupported:     {CategoryFatalIncompatibility, SeverityFatal, false},
	CodeDashNotSupported:    {CategoryFatalIncompatibility, SeverityFatal, false},
	CodeBrowserNotSupported: {CategoryFatalIncompatibility, SeverityFatal, false},
	CodeCorsDenied:          {CategoryFatalIncompatibility, SeverityFatal, false},
	CodeManifestInvalid:     {CategoryFatalIncompatibility, SeverityFatal, false},

	// KeySystem
	CodeKeySystemError:  {CategoryKeySystem, SeverityError, true},
	CodeKeySessionError: {CategoryKeySystem, SeverityError, true},
	CodeLicenseError:    {CategoryKeySystem, SeverityError, true},

	// Unknown
	CodePlayerLoadError:  {CategoryUnknown, SeverityError, true},
	CodePlayerStateError: {CategoryUnknown, SeverityError, true},
	CodePlayerDestroyed:  {CategoryUnknown, SeverityWarn, false},
	CodeUnknown:          {CategoryUnknown, SeverityError, true},
}

// FromHTTPStatus maps an HTTP response status to a classification code
// (§4.3): 0 -> NetworkOffline, 404 -> SegmentMissing, 401/403 ->
// CorsDenied, >=500 -> NetworkHttpError, other 4xx -> NetworkHttpError.
func FromHTTPStatus(status int) string {
	switch {
	case status == 0:
		return CodeNetworkOffline
	case status == 404:
		return CodeSegmentMissing
	case status == 401 || status == 403:
		return CodeCorsDenied
	case status >= 500:
		return CodeNetworkHTTPError
	case status >= 400:
		return CodeNetworkHTTPError
	default:
		return CodeUnknown
	}
}

// FromNativeName maps a native sink/adapter error name to a classification
// code (§4.3): AbortError -> NetworkAborted, QuotaExceededError ->
// MseQuotaExceeded; anything else falls through to FromMessage.
func FromNativeName(name, message string) string {
	switch name {
	case "AbortError":
		return CodeNetworkAborted
	case "QuotaExceededError":
		return CodeMseQuotaExceeded
	}
	return FromMessage(message)
}

// FromMessage inspects a free-text error message for recognizable
// substrings (§4.3): "timeout", "cors", "decode", "codec not supported".
// Matching is case-insensitive since adapters vary in casing.
func FromMessage(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "timeout"):
		return CodeTimeout
	case strings.Contains(m, "cors"):
		return CodeCorsDenied
	case strings.Contains(m, "codec not supported"):
		return CodeCodecUnsupported
	case strings.Contains(m, "decode"):
		return CodeDecodeError
	default:
		return CodeUnknown
	}
}

// Classify builds a PlayerError from code and cause, consulting the fixed
// lookup table for category/severity/recoverable (§4.3). Fatal severity
// always implies Recoverable=false, overriding whatever the table says,
// since a fatal error by definition short-circuits recovery to "no action".
func Classify(code, message string, cause error) *PlayerError {
	e, ok := lookup[code]
	if !ok {
		e = lookup[CodeUnknown]
		code = CodeUnknown
	}
	recoverable := e.recoverable
	if e.severity == SeverityFatal {
		recoverable = false
	}
	return &PlayerError{
		Category:    e.category,
		Code:        code,
		Message:     message,
		Severity:    e.severity,
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// ClassifyHTTPStatus is a convenience wrapper combining FromHTTPStatus and
// Classify for adapters that only observe a numeric status.
func ClassifyHTTPStatus(status int, message string, cause error) *PlayerError {
	return Classify(FromHTTPStatus(status), message, cause)
}

// ClassifyNative is a convenience wrapper combining FromNativeName and
// Classify for adapters reporting a native error name.
func ClassifyNative(name, message string, cause error) *PlayerError {
	return Classify(FromNativeName(name, message), message, cause)
}
