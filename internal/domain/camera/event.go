package camera

import "fmt"

// Event is a discrete UI event. The set is closed: only types in this file
// implement it, and the orchestrator switches over them exhaustively.
type Event interface {
	isEvent()
	Kind() EventKind
}

type EventKind string

const (
	KindToggleRecording    EventKind = "toggle_recording"
	KindTogglePause        EventKind = "toggle_pause"
	KindCycleFps           EventKind = "cycle_fps"
	KindCycleResolution    EventKind = "cycle_resolution"
	KindCycleFocusMode     EventKind = "cycle_focus_mode"
	KindCycleGammaMode     EventKind = "cycle_gamma_mode"
	KindSetNoiseReduction  EventKind = "set_noise_reduction"
	KindSetSdrToneMap      EventKind = "set_sdr_tone_map"
	KindSetForceDisplaySdr EventKind = "set_force_display_sdr"
	KindTapToMeter         EventKind = "tap_to_meter"
)

type (
	ToggleRecording struct{}
	TogglePause     struct{}
	CycleFps        struct{}
	CycleResolution struct{}
	CycleFocusMode  struct{}
	CycleGammaMode  struct{}

	SetNoiseReduction  struct{ Enabled bool }
	SetSdrToneMap      struct{ Enabled bool }
	SetForceDisplaySdr struct{ Enabled bool }

	// TapToMeter carries a normalized preview coordinate (0..1 on both axes).
	TapToMeter struct{ Point MeteringPoint }
)

// MeteringPoint is a normalized point on the preview surface.
type MeteringPoint struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p MeteringPoint) Validate() error {
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return fmt.Errorf("%w: metering point (%.3f, %.3f) outside [0,1]", ErrInvalidArgument, p.X, p.Y)
	}
	return nil
}

func (ToggleRecording) isEvent()    {}
func (TogglePause) isEvent()        {}
func (CycleFps) isEvent()           {}
func (CycleResolution) isEvent()    {}
func (CycleFocusMode) isEvent()     {}
func (CycleGammaMode) isEvent()     {}
func (SetNoiseReduction) isEvent()  {}
func (SetSdrToneMap) isEvent()      {}
func (SetForceDisplaySdr) isEvent() {}
func (TapToMeter) isEvent()         {}

func (ToggleRecording) Kind() EventKind    { return KindToggleRecording }
func (TogglePause) Kind() EventKind        { return KindTogglePause }
func (CycleFps) Kind() EventKind           { return KindCycleFps }
func (CycleResolution) Kind() EventKind    { return KindCycleResolution }
func (CycleFocusMode) Kind() EventKind     { return KindCycleFocusMode }
func (CycleGammaMode) Kind() EventKind     { return KindCycleGammaMode }
func (SetNoiseReduction) Kind() EventKind  { return KindSetNoiseReduction }
func (SetSdrToneMap) Kind() EventKind      { return KindSetSdrToneMap }
func (SetForceDisplaySdr) Kind() EventKind { return KindSetForceDisplaySdr }
func (TapToMeter) Kind() EventKind         { return KindTapToMeter }

// NewEvent builds an Event from its wire kind. enabled is read by the Set*
// kinds, point by TapToMeter; both are ignored otherwise.
func NewEvent(kind EventKind, enabled bool, point MeteringPoint) (Event, error) {
	switch kind {
	case KindToggleRecording:
		return ToggleRecording{}, nil
	case KindTogglePause:
		return TogglePause{}, nil
	case KindCycleFps:
		return CycleFps{}, nil
	case KindCycleResolution:
		return CycleResolution{}, nil
	case KindCycleFocusMode:
		return CycleFocusMode{}, nil
	case KindCycleGammaMode:
		return CycleGammaMode{}, nil
	case KindSetNoiseReduction:
		return SetNoiseReduction{Enabled: enabled}, nil
	case KindSetSdrToneMap:
		return SetSdrToneMap{Enabled: enabled}, nil
	case KindSetForceDisplaySdr:
		return SetForceDisplaySdr{Enabled: enabled}, nil
	case KindTapToMeter:
		if err := point.Validate(); err != nil {
			return nil, err
		}
		return TapToMeter{Point: point}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidArgument, kind)
	}
}
