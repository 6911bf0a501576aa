// Package settings accumulates camera-control option changes and applies
// them to a bound session as one unit.
//
// Applying options field-by-field lets a frame be captured against a
// half-updated combination (noise reduction on, edge enhancement still off).
// A Transaction only ever hands the hardware a complete option set, in a
// single SetCaptureOptions call.
package settings

import (
	"fmt"
	"sync"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/hardware"
	"go.uber.org/zap"
)

// Pending is the user-facing view of the accumulated settings.
type Pending struct {
	NoiseReduction bool             `json:"noise_reduction"`
	Focus          camera.FocusMode `json:"focus_mode"`
	Tonemap        camera.GammaMode `json:"tonemap"`
	FrameRate      camera.FrameRate `json:"fps"` // 0 until first set
	Uncommitted    bool             `json:"uncommitted"`
}

// Transaction is the PendingSettings builder plus its commit.
//
// Setters are pure accumulation: last write wins per key and nothing reaches
// the hardware until Commit. A failed Commit leaves every accumulated value in
// place so the next successful bind can apply it.
type Transaction struct {
	log *zap.Logger

	mu      sync.Mutex // guards opts, view
	opts    hardware.CaptureOptions
	view    Pending
	commits uint64
}

// NewTransaction returns a Transaction seeded with the defaults: noise
// reduction on, continuous autofocus.
func NewTransaction(log *zap.Logger) *Transaction {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Transaction{log: log.Named("settings")}
	t.SetNoiseReduction(true)
	t.SetFocusMode(camera.FocusAuto)
	return t
}

// SetNoiseReduction toggles noise reduction and edge enhancement together.
func (t *Transaction) SetNoiseReduction(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enabled {
		t.opts.NoiseReduction = hardware.NoiseReductionHighQuality
		t.opts.Edge = hardware.EdgeHighQuality
	} else {
		t.opts.NoiseReduction = hardware.NoiseReductionOff
		t.opts.Edge = hardware.EdgeOff
	}
	t.view.NoiseReduction = enabled
	t.view.Uncommitted = true
}

// SetFocusMode selects continuous-video AF, or AF off with the lens pinned at
// a focus distance of 0 (infinity).
func (t *Transaction) SetFocusMode(mode camera.FocusMode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case camera.FocusManual:
		d := float32(0)
		t.opts.AF = hardware.AFOff
		t.opts.FocusDistance = &d
	default:
		t.opts.AF = hardware.AFContinuousVideo
		t.opts.FocusDistance = nil
	}
	t.view.Focus = mode
	t.view.Uncommitted = true
}

// SetTonemapMode selects the tonemap curve for a gamma mode.
func (t *Transaction) SetTonemapMode(mode camera.GammaMode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case camera.GammaHLG:
		t.opts.Tonemap = hardware.TonemapContrastCurve
		t.opts.TonemapCurve = HLGCurve()
	case camera.GammaCustom:
		t.opts.Tonemap = hardware.TonemapContrastCurve
		t.opts.TonemapCurve = CustomCurve()
	default:
		t.opts.Tonemap = hardware.TonemapHighQuality
		t.opts.TonemapCurve = nil
	}
	t.view.Tonemap = mode
	t.view.Uncommitted = true
}

// SetFrameRate pins the AE target FPS range to (fps, fps).
func (t *Transaction) SetFrameRate(fps camera.FrameRate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opts.AETargetFps = &[2]int{int(fps), int(fps)}
	t.view.FrameRate = fps
	t.view.Uncommitted = true
}

// Pending returns the current accumulated view.
func (t *Transaction) Pending() Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Options returns the full option set a Commit would apply now.
func (t *Transaction) Options() hardware.CaptureOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Commit applies the entire accumulated option set to ctl in one call.
//
// A nil ctl (no bound session) fails with camera.ErrCommitFailure wrapping
// camera.ErrNotReady. Accumulated values are never discarded on failure.
func (t *Transaction) Commit(ctl hardware.Control) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ctl == nil {
		return fmt.Errorf("%w: %w", camera.ErrCommitFailure, camera.ErrNotReady)
	}

	if err := ctl.SetCaptureOptions(t.snapshotLocked()); err != nil {
		t.log.Warn("commit rejected", zap.Error(err))
		return fmt.Errorf("%w: %w", camera.ErrCommitFailure, err)
	}

	t.commits++
	t.view.Uncommitted = false
	t.log.Debug("settings committed",
		zap.Uint64("commit", t.commits),
		zap.Bool("noise_reduction", t.view.NoiseReduction),
		zap.Stringer("focus", t.view.Focus),
		zap.Stringer("tonemap", t.view.Tonemap),
		zap.Int("fps", int(t.view.FrameRate)),
	)
	return nil
}

// snapshotLocked copies opts so the hardware never aliases builder state.
// Curves are shared read-only values and are not copied.
func (t *Transaction) snapshotLocked() hardware.CaptureOptions {
	out := t.opts
	if t.opts.FocusDistance != nil {
		d := *t.opts.FocusDistance
		out.FocusDistance = &d
	}
	if t.opts.AETargetFps != nil {
		r := *t.opts.AETargetFps
		out.AETargetFps = &r
	}
	return out
}
