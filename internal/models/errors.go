package models

import "errors"

// Sentinel errors for the playback control plane. PlayerError (player_error.go)
// is the classified, user-facing error surfaced through the event bus; these
// are plain internal-plumbing errors checked with errors.Is.
var (
	// ErrIllegalTransition is returned when a caller requests a player state
	// transition that does not appear in the transition table (§4.4).
	ErrIllegalTransition = errors.New("illegal player state transition")

	// ErrQueueDestroyed is returned to any operation submitted to, or still
	// pending on, an append/remove queue (C6) whose session has been
	// destroyed (§4.6).
	ErrQueueDestroyed = errors.New("append queue destroyed")

	// ErrQueueBackpressure is returned when a submission would exceed the
	// configured queue backpressure bound (§4.6, QueueConfig).
	ErrQueueBackpressure = errors.New("append queue backpressure limit exceeded")

	// ErrSuperseded is the internal sentinel used when an in-progress load
	// is abandoned because a newer load has started (§5 Cancellation).
	ErrSuperseded = errors.New("load superseded by a newer session")

	// ErrEngineDestroyed is returned by any engine method called after
	// Destroy has completed (§8 invariant 7).
	ErrEngineDestroyed = errors.New("engine destroyed")

	// ErrNoAdapter is returned when the injected AdapterFactory returns nil,
	// meaning no adapter handles the requested source (§6).
	ErrNoAdapter = errors.New("no adapter available for source")

	// ErrNotPlayable is returned by play() when the player state machine is
	// not in a playable state (§4.4).
	ErrNotPlayable = errors.New("player is not in a playable state")

	// ErrInvalidQualityIndex is returned by setQuality when the requested
	// index is out of range for the active level set.
	ErrInvalidQualityIndex = errors.New("invalid quality level index")
)
