// Package stats turns per-frame capture results into a throttled telemetry
// stream.
//
// Two producers feed it from the capture callback goroutines: the preview
// stream (ISO and shutter) and the video stream (FPS and drop/add
// accounting). Neither blocks nor allocates per frame. A separate poller
// reads the shared atomics on a fixed cadence and publishes an immutable,
// versioned Snapshot, so the UI update rate is independent of frame rate.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"go.uber.org/zap"
)

// DefaultPollInterval bounds UI updates to 2 Hz.
const DefaultPollInterval = 500 * time.Millisecond

const (
	nsPerSecond = int64(time.Second)

	// publishTimeout caps a Publisher call so a slow sink cannot stall ticks.
	publishTimeout = 250 * time.Millisecond
)

// Snapshot is one published telemetry value. Snapshots are never mutated
// after publication.
type Snapshot struct {
	Version       uint64    `json:"version"`
	At            time.Time `json:"at"`
	ISO           int32     `json:"iso"`
	ShutterSpeed  float64   `json:"shutter_speed"` // 1/s denominator, 0 if unknown
	EffectiveFps  int       `json:"effective_fps"`
	DroppedFrames int64     `json:"dropped_frames"`
	AddedFrames   int64     `json:"added_frames"`

	// Reserved for device telemetry; zero means unknown.
	StorageRemainingGB float64 `json:"storage_remaining_gb"`
	BatteryLevel       int     `json:"battery_level"`
	DeviceTempC        float32 `json:"device_temp_c"`
}

// Publisher receives every published Snapshot (e.g. a telemetry repository).
type Publisher interface {
	PublishStats(ctx context.Context, snap Snapshot) error
}

type Options struct {
	PollInterval time.Duration // DefaultPollInterval if zero
	Publisher    Publisher     // optional
}

// Aggregator is the StatsAggregator. IngestPreview and IngestVideo are safe
// to call from the capture goroutines concurrently with everything else.
type Aggregator struct {
	log   *zap.Logger
	opts  Options
	state *sharedState

	latest  atomic.Pointer[Snapshot]
	version atomic.Uint64
	alive   atomic.Bool

	mu        sync.Mutex // guards subs, pubFailed
	subs      map[chan Snapshot]struct{}
	pubFailed bool
}

func NewAggregator(log *zap.Logger, opts Options) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	a := &Aggregator{
		log:   log.Named("stats"),
		opts:  opts,
		state: newSharedState(),
		subs:  make(map[chan Snapshot]struct{}),
	}
	a.latest.Store(&Snapshot{})
	a.alive.Store(true)
	return a
}

// ---- capture callbacks (hot path) -------------------------------------------

// IngestPreview records the sensor readings of a preview frame. Samples
// lacking sensitivity or exposure, or with a non-positive exposure, are
// ignored and the previous readings stay visible.
func (a *Aggregator) IngestPreview(s camera.FrameSample) {
	if !s.Has(camera.FieldSensitivity|camera.FieldExposure) || s.ExposureNs <= 0 || s.ISO < 0 {
		return
	}
	a.state.preview.Store(packPreview(s.ISO, s.ExposureNs))
}

// IngestVideo counts one encoded frame and closes the FPS window once at
// least one second of sensor time has accumulated since its anchor.
//
// On close: fps = frames·1e9/duration, expected = target·duration/1e9 and
// diff = frames − expected. A negative diff adds to dropped; a positive diff
// adds diff−1 to added (the boundary frame belongs to the next window).
func (a *Aggregator) IngestVideo(s camera.FrameSample) {
	if !s.Has(camera.FieldTimestamp) {
		return
	}
	st := a.state
	ts := s.TimestampNs

	prev := st.tally.Load()
	switch prev.phase {
	case phaseStopped:
		return
	case phaseArmed:
		// first sample after (re)start only anchors the window
		next := *prev
		next.phase = phaseRunning
		if st.tally.CompareAndSwap(prev, &next) {
			st.windowStart.Store(ts)
			st.frames.Store(0)
		}
		return
	}

	n := st.frames.Add(1)
	duration := ts - st.windowStart.Load()
	if duration < nsPerSecond {
		return
	}

	next := tally{
		phase:   phaseRunning,
		fps:     int(n * nsPerSecond / duration),
		dropped: prev.dropped,
		added:   prev.added,
	}
	expected := st.target.Load() * duration / nsPerSecond
	switch diff := n - expected; {
	case diff < 0:
		next.dropped += -diff
	case diff > 0:
		next.added += diff - 1
	}

	// A concurrent Start/Stop replaced the tally: this window is stale.
	if st.tally.CompareAndSwap(prev, &next) {
		st.frames.Store(0)
		st.windowStart.Store(ts)
	}
}

// ---- recording hooks ----------------------------------------------------------

// Start resets FPS, dropped and added to zero and arms the video window for
// a recording at targetFps.
func (a *Aggregator) Start(targetFps camera.FrameRate) {
	st := a.state
	st.target.Store(int64(targetFps))
	st.frames.Store(0)
	// always a fresh pointer: an in-flight window must fail its CAS
	st.tally.Store(&tally{phase: phaseArmed})
	a.log.Debug("fps accounting started", zap.Int("target_fps", int(targetFps)))
}

// Stop ends FPS accounting. FPS drops to zero; dropped and added keep their
// final values until the next Start.
func (a *Aggregator) Stop() {
	st := a.state
	for {
		prev := st.tally.Load()
		next := &tally{phase: phaseStopped, dropped: prev.dropped, added: prev.added}
		if st.tally.CompareAndSwap(prev, next) {
			a.log.Debug("fps accounting stopped",
				zap.Int64("dropped", next.dropped),
				zap.Int64("added", next.added),
			)
			return
		}
	}
}

// ---- publication ----------------------------------------------------------------

// Latest returns the most recently published Snapshot.
func (a *Aggregator) Latest() Snapshot { return *a.latest.Load() }

// Subscribe returns a latest-wins mailbox of published snapshots: a slow
// reader sees only the newest value. cancel must be called to release it.
func (a *Aggregator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	a.mu.Lock()
	a.subs[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, ch)
			a.mu.Unlock()
		})
	}
}

// Run publishes a Snapshot immediately and then every poll interval until
// ctx is done or Close is called.
func (a *Aggregator) Run(ctx context.Context) error {
	t := time.NewTicker(a.opts.PollInterval)
	defer t.Stop()

	for {
		// Close may race an in-flight tick
		if !a.alive.Load() {
			return nil
		}
		a.publish(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Close stops the poller at its next tick. Capture callbacks stay valid.
func (a *Aggregator) Close() {
	a.alive.Store(false)
}

// publish reads the shared state once and fans the result out.
func (a *Aggregator) publish(ctx context.Context) Snapshot {
	st := a.state
	iso, exposure := unpackPreview(st.preview.Load())
	t := st.tally.Load()

	snap := Snapshot{
		Version:       a.version.Add(1),
		At:            time.Now(),
		ISO:           iso,
		EffectiveFps:  t.fps,
		DroppedFrames: t.dropped,
		AddedFrames:   t.added,
	}
	if exposure > 0 {
		snap.ShutterSpeed = float64(nsPerSecond) / float64(exposure)
	}
	a.latest.Store(&snap)

	a.mu.Lock()
	for ch := range a.subs {
		select { // drop the stale value, keep the newest
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	a.mu.Unlock()

	if a.opts.Publisher != nil {
		a.forward(ctx, snap)
	}
	return snap
}

// forward hands snap to the Publisher. Failures are logged on transition
// only, so a dead sink does not flood the log at 2 Hz.
func (a *Aggregator) forward(ctx context.Context, snap Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := a.opts.Publisher.PublishStats(ctx, snap)

	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case err != nil && !a.pubFailed:
		a.pubFailed = true
		a.log.Warn("stats publish failing", zap.Error(err))
	case err == nil && a.pubFailed:
		a.pubFailed = false
		a.log.Info("stats publish recovered")
	}
}
