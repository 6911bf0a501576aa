// Package hardware is the boundary to the camera service.
//
// The core binds a set of use-cases, waits for the bound session's readiness
// signal, and then drives it through the Control and VideoCapture handles.
// Capture results flow back through the per-use-case sample callbacks, which
// are invoked on the provider's own goroutines at frame rate.
package hardware

import (
	"context"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/media"
)

// Callbacks are the per-frame capture result sinks for one bind.
type Callbacks struct {
	Preview camera.SampleSink
	Video   camera.SampleSink
}

// Provider binds use-cases to the camera. A provider holds at most one bound
// session; Bind replaces nothing on its own, callers UnbindAll first.
type Provider interface {
	Bind(ctx context.Context, uc camera.UseCases, cb Callbacks) (Session, error)

	// UnbindAll tears down every bound use-case. It returns once no further
	// callbacks from the old session will be delivered.
	UnbindAll()
}

// Session is one bound configuration.
//
// Canonical usage:
//
//	s → <-Ready() → Control()/VideoCapture() → UnbindAll()
type Session interface {
	// Ready is closed once the session accepts capture requests.
	Ready() <-chan struct{}
	// Done is closed once the session has been torn down.
	Done() <-chan struct{}

	Control() Control
	VideoCapture() VideoCapture
}

// MeteringFlag selects the 3A routines a metering action targets.
type MeteringFlag uint8

const (
	MeteringAE MeteringFlag = 1 << iota
	MeteringAWB
	MeteringAF
)

// Control is the live hardware-control handle of a bound session.
type Control interface {
	// SetCaptureOptions replaces the full set of request options in one call.
	SetCaptureOptions(opts CaptureOptions) error
	StartFocusAndMetering(p camera.MeteringPoint, flags MeteringFlag) error
	SetTargetRotation(degrees int) error
}

// RecordEventKind discriminates RecordEvent.
type RecordEventKind int

const (
	RecordStarted RecordEventKind = iota
	RecordFinalized
)

// RecordEvent is an asynchronous recording status event. A finalize event
// carrying Err is terminal.
type RecordEvent struct {
	Kind RecordEventKind
	URI  string
	Err  error
}

// VideoCapture opens hardware recordings on the bound video use-case.
// The listener is never invoked from inside StartRecording.
type VideoCapture interface {
	StartRecording(target *media.Target, listener func(RecordEvent)) (ActiveRecording, error)
}

// ActiveRecording is an in-flight hardware recording.
type ActiveRecording interface {
	Pause() error
	Resume() error
	// Stop finalizes the output; a non-nil error means the output is unusable.
	Stop() error
}
