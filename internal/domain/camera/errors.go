package camera

import "errors"

var (
	// ErrNotReady signals an action attempted before a valid hardware handle exists
	// (never bound, or mid-rebind).
	ErrNotReady = errors.New("camera not ready")

	// ErrBindFailure signals the hardware rejected a (re)bind.
	ErrBindFailure = errors.New("bind failure")

	// ErrCommitFailure signals settings were rejected or the handle was stale.
	ErrCommitFailure = errors.New("commit failure")

	// ErrRecordingFinalize signals an output-write error surfaced at stop/finalize.
	ErrRecordingFinalize = errors.New("recording finalize error")

	// ErrRecordingActive signals a rebind-triggering change rejected while a
	// recording is open.
	ErrRecordingActive = errors.New("recording active")

	// ErrInvalidTransition signals a recording lifecycle call from the wrong state.
	ErrInvalidTransition = errors.New("invalid recording transition")

	// ErrClosed signals the orchestrator was torn down.
	ErrClosed = errors.New("session closed")

	// ErrInvalidArgument signals a value outside its domain (config field,
	// metering point, rotation, event kind).
	ErrInvalidArgument = errors.New("invalid argument")
)
