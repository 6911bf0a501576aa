package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/hardware"
	"github.com/edirooss/hdr-recorder/internal/media"
	"github.com/edirooss/hdr-recorder/internal/recording"
	"github.com/edirooss/hdr-recorder/internal/settings"
	"github.com/edirooss/hdr-recorder/internal/stats"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// SessionOrchestrator
// -----------------------------------------------------------------------------
//
// Runtime model
//   • One orchestrator per camera. All mutations (Dispatch, Reconfigure, Start,
//     Close) are serialized through a single gate; SetRotation fast-fails
//     instead of queueing behind them.
//   • Capture callbacks go straight to the stats aggregator on the provider's
//     goroutines and never touch orchestrator state.
//   • Reads (State, Stats, Notices) are lock-free or take a short read lock.
//
// Contract (runtime-first)
//   • The hardware is the source of truth. SessionConfig only changes after a
//     rebind with the new config has landed and reported Ready.
//   • Rebind = UnbindAll → BuildUseCases → Bind → <-Ready() → commit settings.
//     Ready gates the commit; there is no settle delay.
//   • Bind failure has compensation: the previous config is re-bound
//     (best-effort, detached from the caller's ctx) and both errors are
//     returned joined. With nothing bound, any reconfigure is a rebind, so
//     reapplying the current config retries.
//   • Commit failure keeps the pending settings for the next successful bind.
//
// Event table
//   • ToggleRecording, TogglePause   → RecordingController (+ stats start/stop).
//   • CycleFps, CycleResolution,
//     CycleGammaMode, SetSdrToneMap  → rebind; rejected while recording.
//   • SetForceDisplaySdr            → state only, unless it clears an active
//                                     SDR tone map (then it is a rebind).
//   • CycleFocusMode, SetNoiseReduction → settings commit only.
//   • TapToMeter                    → AE|AWB metering on the live handle.

// Default timings.
const (
	DefaultReadyTimeout   = 5 * time.Second
	DefaultStatusInterval = time.Second

	statusTimeout = 250 * time.Millisecond
)

// ErrBusy signals a concurrent mutation is already in flight.
var ErrBusy = errors.New("session busy")

// StatusPublisher receives the UI state on a fixed cadence (e.g. a telemetry
// repository).
type StatusPublisher interface {
	PublishStatus(ctx context.Context, st UiState) error
}

type Options struct {
	Config                camera.SessionConfig // initial; DefaultSessionConfig if zero
	Focus                 camera.FocusMode
	DisableNoiseReduction bool

	Stats     stats.Options
	Recording recording.Options // OnAbort/OnTerminal/OnSaved are chained, not replaced

	StatusPublisher StatusPublisher
	StatusInterval  time.Duration // DefaultStatusInterval if zero
	ReadyTimeout    time.Duration // DefaultReadyTimeout if zero
}

// UiState is the read-only view the UI renders.
type UiState struct {
	SessionID string               `json:"session_id"`
	At        time.Time            `json:"at"`
	Ready     bool                 `json:"ready"`
	Config    camera.SessionConfig `json:"config"`
	Settings  settings.Pending     `json:"settings"`
	Recording recording.Status     `json:"recording"`
	Rotation  int                  `json:"rotation"`
}

// SessionOrchestrator owns the canonical SessionConfig and the hardware
// session, and fans events out to the recording, settings and stats
// components.
type SessionOrchestrator struct {
	log      *zap.Logger
	id       string
	opts     Options
	provider hardware.Provider

	stats    *stats.Aggregator
	tx       *settings.Transaction
	rec      *recording.Controller
	notices  noticeBuffer
	mutation *gate
	stop     chan struct{}

	mu        sync.RWMutex // guards everything below
	cfg       camera.SessionConfig
	session   hardware.Session
	rebinding bool
	rotation  int
	closed    bool
}

func NewSessionOrchestrator(log *zap.Logger, provider hardware.Provider, sink media.Sink, opts Options) *SessionOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Config == (camera.SessionConfig{}) {
		opts.Config = camera.DefaultSessionConfig()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}

	id := uuid.NewString()
	log = log.Named("orchestrator").With(zap.String("session_id", id))

	o := &SessionOrchestrator{
		log:      log,
		id:       id,
		opts:     opts,
		provider: provider,
		stats:    stats.NewAggregator(log, opts.Stats),
		tx:       settings.NewTransaction(log),
		mutation: newGate(),
		stop:     make(chan struct{}),
		cfg:      opts.Config,
	}

	if opts.Focus != camera.FocusAuto {
		o.tx.SetFocusMode(opts.Focus)
	}
	if opts.DisableNoiseReduction {
		o.tx.SetNoiseReduction(false)
	}

	recOpts := opts.Recording
	onAbort, onTerminal, onSaved := recOpts.OnAbort, recOpts.OnTerminal, recOpts.OnSaved
	recOpts.OnAbort = func() {
		o.stats.Stop()
		if onAbort != nil {
			onAbort()
		}
	}
	recOpts.OnTerminal = func(err error) {
		o.notices.Append(NoticeError, "recording failed", err.Error())
		if onTerminal != nil {
			onTerminal(err)
		}
	}
	recOpts.OnSaved = func(uri string) {
		o.notices.Append(NoticeInfo, "video saved to "+uri, "")
		if onSaved != nil {
			onSaved(uri)
		}
	}
	o.rec = recording.NewController(log, sink, recOpts)

	return o
}

// ---- lifecycle ------------------------------------------------------------------

// Start performs the initial bind and commits the initial settings.
func (o *SessionOrchestrator) Start(ctx context.Context) error {
	if err := o.mutation.LockContext(ctx); err != nil {
		return err
	}
	defer o.mutation.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}

	cfg := o.config()
	if err := o.rebind(ctx, cfg); err != nil {
		o.notices.Append(NoticeError, "camera not ready", err.Error())
		return fmt.Errorf("%w: %w", camera.ErrBindFailure, err)
	}
	o.log.Info("session started",
		zap.Int("fps", int(cfg.FrameRate)),
		zap.Stringer("quality", cfg.Quality),
		zap.Stringer("gamma", cfg.Gamma),
	)
	return o.commit()
}

// Run drives the stats poller and the status publisher until ctx is done or
// Close is called.
func (o *SessionOrchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Close stops the poller through its liveness flag
		return o.stats.Run(gctx)
	})
	if o.opts.StatusPublisher != nil {
		g.Go(func() error {
			o.publishStatusLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Close stops any recording, stops the poller and unbinds. Idempotent.
func (o *SessionOrchestrator) Close() error {
	_ = o.mutation.LockContext(context.Background())
	defer o.mutation.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.session = nil
	o.mu.Unlock()

	err := o.rec.Close()
	o.stats.Stop()
	o.stats.Close()
	close(o.stop)
	o.provider.UnbindAll()

	o.log.Info("session closed")
	return err
}

// ---- events ----------------------------------------------------------------------

// Dispatch applies one UI event. Events are applied one at a time, in call
// order; ctx bounds the wait for the gate and any rebind.
func (o *SessionOrchestrator) Dispatch(ctx context.Context, ev camera.Event) error {
	if err := o.mutation.LockContext(ctx); err != nil {
		return err
	}
	defer o.mutation.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}
	o.log.Debug("event", zap.String("kind", string(ev.Kind())))

	cfg := o.config()
	switch e := ev.(type) {
	case camera.ToggleRecording:
		return o.toggleRecording(cfg)
	case camera.TogglePause:
		return o.togglePause()

	case camera.CycleFps:
		return o.applyConfig(ctx, cfg.WithFrameRate(cfg.FrameRate.Next()))
	case camera.CycleResolution:
		return o.applyConfig(ctx, cfg.WithQuality(cfg.Quality.Next()))
	case camera.CycleGammaMode:
		return o.applyConfig(ctx, cfg.WithGamma(cfg.Gamma.Next()))
	case camera.SetSdrToneMap:
		return o.applyConfig(ctx, cfg.WithSdrToneMap(e.Enabled))
	case camera.SetForceDisplaySdr:
		return o.applyConfig(ctx, cfg.WithForceDisplaySdr(e.Enabled))

	case camera.CycleFocusMode:
		o.tx.SetFocusMode(o.tx.Pending().Focus.Next())
		return o.commit()
	case camera.SetNoiseReduction:
		o.tx.SetNoiseReduction(e.Enabled)
		return o.commit()

	case camera.TapToMeter:
		return o.meter(e.Point)

	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

// Reconfigure rebinds with cfg, then re-commits the pending settings.
func (o *SessionOrchestrator) Reconfigure(ctx context.Context, cfg camera.SessionConfig) error {
	if err := o.mutation.LockContext(ctx); err != nil {
		return err
	}
	defer o.mutation.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}
	return o.applyConfig(ctx, cfg)
}

// SetRotation pushes a target rotation to the bound use-cases without a
// rebind. It fails with ErrBusy while another mutation is in flight.
func (o *SessionOrchestrator) SetRotation(degrees int) error {
	switch degrees {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation %d", camera.ErrInvalidArgument, degrees)
	}
	if !o.mutation.TryLock() {
		return ErrBusy
	}
	defer o.mutation.Unlock()

	if err := o.checkOpen(); err != nil {
		return err
	}
	ctl, err := o.control()
	if err != nil {
		return err
	}
	if err := ctl.SetTargetRotation(degrees); err != nil {
		return fmt.Errorf("set rotation: %w", err)
	}

	o.mu.Lock()
	o.rotation = degrees
	o.mu.Unlock()
	return nil
}

// ---- reads -----------------------------------------------------------------------

func (o *SessionOrchestrator) State() UiState {
	o.mu.RLock()
	st := UiState{
		SessionID: o.id,
		At:        time.Now(),
		Ready:     o.session != nil && !o.rebinding,
		Config:    o.cfg,
		Rotation:  o.rotation,
	}
	o.mu.RUnlock()

	st.Settings = o.tx.Pending()
	st.Recording = o.rec.Status()
	return st
}

func (o *SessionOrchestrator) Stats() stats.Snapshot { return o.stats.Latest() }

// SubscribeStats returns a latest-wins stream of stats snapshots.
func (o *SessionOrchestrator) SubscribeStats() (<-chan stats.Snapshot, func()) {
	return o.stats.Subscribe()
}

// Notices returns up to n notices, newest first.
func (o *SessionOrchestrator) Notices(n int) []Notice { return o.notices.Read(n) }

func (o *SessionOrchestrator) ID() string { return o.id }

// ---- internals ---------------------------------------------------------------------

func (o *SessionOrchestrator) toggleRecording(cfg camera.SessionConfig) error {
	if o.rec.State().Active() {
		err := o.rec.Stop()
		o.stats.Stop()
		if err != nil {
			o.notices.Append(NoticeError, "recording failed", err.Error())
			return err
		}
		return nil
	}

	capture, err := o.capture()
	if err == nil {
		err = o.rec.Start(capture)
	}
	if err != nil {
		o.notifyFailure(err)
		return err
	}
	o.stats.Start(cfg.FrameRate)
	// a hardware failure may already have aborted it
	if !o.rec.State().Active() {
		o.stats.Stop()
	}
	return nil
}

func (o *SessionOrchestrator) togglePause() error {
	var err error
	switch o.rec.State() {
	case camera.Recording:
		err = o.rec.Pause()
	case camera.Paused:
		err = o.rec.Resume()
	default:
		err = fmt.Errorf("toggle pause while idle: %w", camera.ErrInvalidTransition)
	}
	if err != nil && !errors.Is(err, camera.ErrInvalidTransition) {
		o.notices.Append(NoticeError, "recording failed", err.Error())
	}
	return err
}

// applyConfig moves to next: a rebind when the use-cases change or nothing is
// bound, otherwise an in-place state update.
func (o *SessionOrchestrator) applyConfig(ctx context.Context, next camera.SessionConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}

	prev := o.config()
	wasBound := o.bound()
	if wasBound && !prev.RequiresRebind(next) {
		o.mu.Lock()
		o.cfg = next
		o.mu.Unlock()
		return nil
	}

	if o.rec.State().Active() {
		o.notices.Append(NoticeWarn, "stop recording to change the capture format", "")
		return fmt.Errorf("reconfigure: %w", camera.ErrRecordingActive)
	}

	if err := o.rebind(ctx, next); err != nil {
		bindErr := fmt.Errorf("%w: %w", camera.ErrBindFailure, err)

		// Compensation: restore the previous configuration. It outlives the
		// caller's ctx; ReadyTimeout still bounds it.
		if wasBound {
			if restoreErr := o.rebind(context.WithoutCancel(ctx), prev); restoreErr != nil {
				o.log.Error("restore previous config failed", zap.Error(restoreErr))
				bindErr = errors.Join(bindErr, fmt.Errorf("restore previous config: %w", restoreErr))
			} else if commitErr := o.commitQuiet(); commitErr != nil {
				o.log.Warn("re-commit after restore failed", zap.Error(commitErr))
			}
		}
		o.notices.Append(NoticeError, "camera not ready", bindErr.Error())
		return bindErr
	}

	o.mu.Lock()
	o.cfg = next
	o.mu.Unlock()
	o.log.Info("reconfigured",
		zap.Int("fps", int(next.FrameRate)),
		zap.Stringer("quality", next.Quality),
		zap.Stringer("gamma", next.Gamma),
		zap.Bool("sdr_tone_map", next.SdrToneMap),
	)
	return o.commit()
}

// rebind replaces the bound session with one built from cfg and returns once
// it is Ready. On failure nothing is bound.
func (o *SessionOrchestrator) rebind(ctx context.Context, cfg camera.SessionConfig) error {
	o.mu.Lock()
	o.rebinding = true
	o.session = nil
	rotation := o.rotation
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.rebinding = false
		o.mu.Unlock()
	}()

	// no callback from the old session is delivered after this returns
	o.provider.UnbindAll()

	s, err := o.provider.Bind(ctx, camera.BuildUseCases(cfg), hardware.Callbacks{
		Preview: o.stats.IngestPreview,
		Video:   o.stats.IngestVideo,
	})
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	if err := o.awaitReady(ctx, s); err != nil {
		o.provider.UnbindAll()
		return err
	}

	// settings derived from the config travel with every commit
	o.tx.SetFrameRate(cfg.FrameRate)
	o.tx.SetTonemapMode(cfg.Gamma)

	if rotation != 0 {
		if err := s.Control().SetTargetRotation(rotation); err != nil {
			o.log.Warn("rotation not restored", zap.Int("rotation", rotation), zap.Error(err))
		}
	}

	o.mu.Lock()
	o.session = s
	o.mu.Unlock()
	return nil
}

func (o *SessionOrchestrator) awaitReady(ctx context.Context, s hardware.Session) error {
	t := time.NewTimer(o.opts.ReadyTimeout)
	defer t.Stop()

	select {
	case <-s.Ready():
		return nil
	case <-s.Done():
		return errors.New("session closed before ready")
	case <-t.C:
		return fmt.Errorf("session not ready after %s", o.opts.ReadyTimeout)
	case <-ctx.Done():
		return fmt.Errorf("await ready: %w", ctx.Err())
	}
}

// commit applies the pending settings to the live handle. Failure keeps them
// pending and is surfaced as a notice.
func (o *SessionOrchestrator) commit() error {
	if err := o.commitQuiet(); err != nil {
		o.notices.Append(NoticeError, "camera not ready", err.Error())
		return err
	}
	return nil
}

func (o *SessionOrchestrator) commitQuiet() error {
	ctl, _ := o.control()
	return o.tx.Commit(ctl)
}

func (o *SessionOrchestrator) meter(p camera.MeteringPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ctl, err := o.control()
	if err != nil {
		o.notifyFailure(err)
		return err
	}
	if err := ctl.StartFocusAndMetering(p, hardware.MeteringAE|hardware.MeteringAWB); err != nil {
		return fmt.Errorf("metering: %w", err)
	}
	return nil
}

// control returns the live control handle, or ErrNotReady when nothing is
// bound or a rebind is in progress. It never waits.
func (o *SessionOrchestrator) control() (hardware.Control, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.session == nil || o.rebinding {
		return nil, camera.ErrNotReady
	}
	return o.session.Control(), nil
}

func (o *SessionOrchestrator) capture() (hardware.VideoCapture, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.session == nil || o.rebinding {
		return nil, camera.ErrNotReady
	}
	return o.session.VideoCapture(), nil
}

// bound reports whether a session is bound (Ready or not).
func (o *SessionOrchestrator) bound() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session != nil
}

func (o *SessionOrchestrator) config() camera.SessionConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

func (o *SessionOrchestrator) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return camera.ErrClosed
	}
	return nil
}

func (o *SessionOrchestrator) notifyFailure(err error) {
	if errors.Is(err, camera.ErrNotReady) {
		o.notices.Append(NoticeError, "camera not ready", err.Error())
		return
	}
	o.notices.Append(NoticeError, "recording failed", err.Error())
}

// publishStatusLoop forwards State to the StatusPublisher. Failures are
// logged on transition only.
func (o *SessionOrchestrator) publishStatusLoop(ctx context.Context) {
	t := time.NewTicker(o.opts.StatusInterval)
	defer t.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-t.C:
		}

		pctx, cancel := context.WithTimeout(ctx, statusTimeout)
		err := o.opts.StatusPublisher.PublishStatus(pctx, o.State())
		cancel()

		switch {
		case err != nil && !failing:
			failing = true
			o.log.Warn("status publish failing", zap.Error(err))
		case err == nil && failing:
			failing = false
			o.log.Info("status publish recovered")
		}
	}
}
