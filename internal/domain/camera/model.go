package camera

import (
	"encoding/json"
	"fmt"
)

// FrameRate is one of the discrete capture rates the session can be bound at.
type FrameRate int

const (
	FPS24 FrameRate = 24
	FPS30 FrameRate = 30
	FPS60 FrameRate = 60
)

// Next returns the following rate in the 24 → 30 → 60 → 24 cycle.
// Unknown rates restart the cycle at 24.
func (r FrameRate) Next() FrameRate {
	switch r {
	case FPS24:
		return FPS30
	case FPS30:
		return FPS60
	default:
		return FPS24
	}
}

func (r FrameRate) Valid() bool {
	return r == FPS24 || r == FPS30 || r == FPS60
}

// Quality is the ordered recording quality tier (FHD < UHD < Highest).
type Quality int

const (
	QualityFHD Quality = iota
	QualityUHD
	QualityHighest
)

func (q Quality) String() string {
	switch q {
	case QualityFHD:
		return "FHD"
	case QualityUHD:
		return "UHD"
	case QualityHighest:
		return "Highest"
	default:
		return "unknown"
	}
}

// Next returns the following tier in the FHD → UHD → Highest → FHD cycle.
func (q Quality) Next() Quality {
	switch q {
	case QualityFHD:
		return QualityUHD
	case QualityUHD:
		return QualityHighest
	default:
		return QualityFHD
	}
}

// MarshalJSON makes Quality serialize as string
func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

// UnmarshalJSON makes Quality deserialize from string
func (q *Quality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseQuality(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// ParseQuality maps "FHD" | "UHD" | "Highest" to a Quality.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "FHD":
		return QualityFHD, nil
	case "UHD":
		return QualityUHD, nil
	case "Highest":
		return QualityHighest, nil
	default:
		return 0, fmt.Errorf("%w: quality %q", ErrInvalidArgument, s)
	}
}

// GammaMode is the transfer-curve policy applied before encoding.
type GammaMode int

const (
	GammaDevice GammaMode = iota // device tone mapping (HLG 10-bit pipeline)
	GammaHLG                     // HLG OETF contrast curve
	GammaCustom                  // fixed custom contrast curve
)

func (g GammaMode) String() string {
	switch g {
	case GammaDevice:
		return "Device"
	case GammaHLG:
		return "HLG"
	case GammaCustom:
		return "Custom"
	default:
		return "unknown"
	}
}

// Next returns the following mode in the Device → HLG → Custom → Device cycle.
func (g GammaMode) Next() GammaMode {
	switch g {
	case GammaDevice:
		return GammaHLG
	case GammaHLG:
		return GammaCustom
	default:
		return GammaDevice
	}
}

// MarshalJSON makes GammaMode serialize as string
func (g GammaMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON makes GammaMode deserialize from string
func (g *GammaMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseGammaMode(s)
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// ParseGammaMode maps "Device" | "HLG" | "Custom" to a GammaMode.
func ParseGammaMode(s string) (GammaMode, error) {
	switch s {
	case "Device":
		return GammaDevice, nil
	case "HLG":
		return GammaHLG, nil
	case "Custom":
		return GammaCustom, nil
	default:
		return 0, fmt.Errorf("%w: gamma mode %q", ErrInvalidArgument, s)
	}
}

// FocusMode selects continuous autofocus or a fixed manual focus distance.
type FocusMode int

const (
	FocusAuto FocusMode = iota
	FocusManual
)

func (f FocusMode) String() string {
	switch f {
	case FocusAuto:
		return "Auto"
	case FocusManual:
		return "Manual"
	default:
		return "unknown"
	}
}

// Next toggles Auto ⇄ Manual.
func (f FocusMode) Next() FocusMode {
	if f == FocusAuto {
		return FocusManual
	}
	return FocusAuto
}

// MarshalJSON makes FocusMode serialize as string
func (f FocusMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON makes FocusMode deserialize from string
func (f *FocusMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseFocusMode(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFocusMode maps "Auto" | "Manual" to a FocusMode.
func ParseFocusMode(s string) (FocusMode, error) {
	switch s {
	case "Auto":
		return FocusAuto, nil
	case "Manual":
		return FocusManual, nil
	default:
		return 0, fmt.Errorf("%w: focus mode %q", ErrInvalidArgument, s)
	}
}

// RecordingState is the recording lifecycle state (Idle | Recording | Paused).
type RecordingState int

const (
	Idle RecordingState = iota
	Recording
	Paused
)

func (s RecordingState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Active reports whether a recording session is open (Recording or Paused).
func (s RecordingState) Active() bool { return s == Recording || s == Paused }

// MarshalJSON makes RecordingState serialize as string
func (s RecordingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SessionConfig describes one bindable camera configuration.
//
// It is a value type: every mutation returns a new SessionConfig. The
// SDR-tone-map and force-display-SDR toggles are mutually exclusive; the
// With* setters enforce that when the value is produced, so a SessionConfig
// with both set can only be built by hand.
type SessionConfig struct {
	FrameRate       FrameRate `json:"fps"`
	Quality         Quality   `json:"quality"`
	Gamma           GammaMode `json:"gamma"`
	SdrToneMap      bool      `json:"sdr_tone_map"`       // forces an SDR preview pipeline (rebind)
	ForceDisplaySdr bool      `json:"force_display_sdr"` // display-only hint (no rebind)
}

// DefaultSessionConfig mirrors the initial UI state: 30 fps, FHD, device gamma.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		FrameRate: FPS30,
		Quality:   QualityFHD,
		Gamma:     GammaDevice,
	}
}

func (c SessionConfig) WithFrameRate(r FrameRate) SessionConfig {
	c.FrameRate = r
	return c
}

func (c SessionConfig) WithQuality(q Quality) SessionConfig {
	c.Quality = q
	return c
}

func (c SessionConfig) WithGamma(g GammaMode) SessionConfig {
	c.Gamma = g
	return c
}

// WithSdrToneMap sets the SDR-tone-map toggle; enabling it clears
// force-display-SDR in the same value.
func (c SessionConfig) WithSdrToneMap(enabled bool) SessionConfig {
	c.SdrToneMap = enabled
	if enabled {
		c.ForceDisplaySdr = false
	}
	return c
}

// WithForceDisplaySdr sets the force-display-SDR toggle; enabling it clears
// SDR-tone-map in the same value.
func (c SessionConfig) WithForceDisplaySdr(enabled bool) SessionConfig {
	c.ForceDisplaySdr = enabled
	if enabled {
		c.SdrToneMap = false
	}
	return c
}

// RequiresRebind reports whether moving from c to next changes anything the
// bound use-cases were built from. ForceDisplaySdr is display-only.
func (c SessionConfig) RequiresRebind(next SessionConfig) bool {
	return c.FrameRate != next.FrameRate ||
		c.Quality != next.Quality ||
		c.Gamma != next.Gamma ||
		c.SdrToneMap != next.SdrToneMap
}

func (c SessionConfig) Validate() error {
	if !c.FrameRate.Valid() {
		return fmt.Errorf("%w: frame rate %d", ErrInvalidArgument, c.FrameRate)
	}
	if c.Quality < QualityFHD || c.Quality > QualityHighest {
		return fmt.Errorf("%w: quality %d", ErrInvalidArgument, c.Quality)
	}
	if c.Gamma < GammaDevice || c.Gamma > GammaCustom {
		return fmt.Errorf("%w: gamma mode %d", ErrInvalidArgument, c.Gamma)
	}
	if c.SdrToneMap && c.ForceDisplaySdr {
		return fmt.Errorf("%w: sdr_tone_map and force_display_sdr are mutually exclusive", ErrInvalidArgument)
	}
	return nil
}
