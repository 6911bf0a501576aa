// Package sim is a simulated camera provider.
//
// A bound session emits preview and video FrameSamples at the bound frame
// rate on its own goroutines, keeps the last committed capture options and
// writes a small per-frame record into the output of an active recording.
// It backs the server when no real camera service is attached and is used to
// exercise the core end to end.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/hardware"
	"github.com/edirooss/hdr-recorder/internal/media"
	"go.uber.org/zap"
)

var (
	ErrAlreadyBound  = errors.New("use-cases already bound")
	ErrSessionClosed = errors.New("camera session closed")
	ErrRecordingOpen = errors.New("recording already open")
)

type Options struct {
	BindDelay  time.Duration // time from Bind to Ready
	Jitter     time.Duration // ± noise added to sensor timestamps
	DropEvery  int           // skip every Nth video frame; 0 disables
	ISO        int32         // 400 if zero
	ExposureNs int64         // 1/120 s if zero
}

// Provider implements hardware.Provider. It holds at most one session.
type Provider struct {
	log   *zap.Logger
	opts  Options
	epoch time.Time

	mu          sync.Mutex // guards everything below
	cur         *session
	binds       int
	bindErr     error
	commitErr   error
	finalizeErr error
	last        *hardware.CaptureOptions
	rotation    int
}

func NewProvider(log *zap.Logger, opts Options) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ISO == 0 {
		opts.ISO = 400
	}
	if opts.ExposureNs == 0 {
		opts.ExposureNs = int64(time.Second / 120)
	}
	return &Provider{log: log.Named("sim"), opts: opts, epoch: time.Now()}
}

// Bind starts a session for uc. Ready fires after BindDelay.
func (p *Provider) Bind(ctx context.Context, uc camera.UseCases, cb hardware.Callbacks) (hardware.Session, error) {
	if err := uc.Config.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != nil {
		return nil, ErrAlreadyBound
	}
	if p.bindErr != nil {
		return nil, p.bindErr
	}

	p.binds++
	s := newSession(p.log.With(zap.Int("bind", p.binds)), p, uc, cb)
	p.cur = s
	s.start()
	return s, nil
}

// UnbindAll closes the current session and waits until its emitters exit.
func (p *Provider) UnbindAll() {
	p.mu.Lock()
	s := p.cur
	p.cur = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	s.close()
	<-s.Done()
}

// SetBindError makes every following Bind fail with err (nil clears it).
func (p *Provider) SetBindError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bindErr = err
}

// SetCommitError makes SetCaptureOptions fail with err (nil clears it).
func (p *Provider) SetCommitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitErr = err
}

// SetFinalizeError makes the next recording stop fail with err.
func (p *Provider) SetFinalizeError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalizeErr = err
}

// LastOptions returns the most recently committed capture options.
func (p *Provider) LastOptions() (hardware.CaptureOptions, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return hardware.CaptureOptions{}, false
	}
	return *p.last, true
}

func (p *Provider) Binds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binds
}

func (p *Provider) Rotation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotation
}

// sensorNow is a monotonic sensor timestamp in ns.
func (p *Provider) sensorNow() int64 {
	ts := int64(time.Since(p.epoch))
	if j := int64(p.opts.Jitter); j > 0 {
		ts += rand.Int64N(2*j+1) - j
	}
	return ts
}

// session is one bound configuration.
//
// Canonical usage:
//
//	s → start() → <-Ready() → capture → close() → <-Done()
type session struct {
	log *zap.Logger
	p   *Provider
	uc  camera.UseCases
	cb  hardware.Callbacks

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex // guards rec
	rec *recording
}

func newSession(log *zap.Logger, p *Provider, uc camera.UseCases, cb hardware.Callbacks) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		log:    log,
		p:      p,
		uc:     uc,
		cb:     cb,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *session) start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

func (s *session) run() {
	defer s.wg.Done()

	if d := s.p.opts.BindDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
	}
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("session ready",
		zap.Int("fps", int(s.uc.Config.FrameRate)),
		zap.Stringer("quality", s.uc.Config.Quality),
		zap.Stringer("gamma", s.uc.Config.Gamma),
	)

	period := time.Second / time.Duration(s.uc.Config.FrameRate)
	s.wg.Add(2)
	go s.emit(period, s.previewFrame)
	go s.emit(period, s.videoFrame)
}

func (s *session) emit(period time.Duration, frame func(n int)) {
	defer s.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()

	for n := 1; ; n++ {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
		frame(n)
	}
}

func (s *session) previewFrame(int) {
	if s.cb.Preview == nil {
		return
	}
	s.cb.Preview(camera.NewFrameSample(s.p.sensorNow(), s.p.opts.ISO, s.p.opts.ExposureNs))
}

func (s *session) videoFrame(n int) {
	if d := s.p.opts.DropEvery; d > 0 && n%d == 0 {
		return
	}
	ts := s.p.sensorNow()
	if s.cb.Video != nil {
		s.cb.Video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: ts})
	}

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		rec.writeFrame(ts)
	}
}

func (s *session) Ready() <-chan struct{} { return s.ready }
func (s *session) Done() <-chan struct{}  { return s.done }

func (s *session) Control() hardware.Control           { return s }
func (s *session) VideoCapture() hardware.VideoCapture { return s }

// close stops the emitters and finalizes an open recording with an error.
// Idempotent.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			s.wg.Wait()

			s.mu.Lock()
			rec := s.rec
			s.rec = nil
			s.mu.Unlock()
			if rec != nil {
				rec.fail(ErrSessionClosed)
			}

			s.log.Info("session closed")
			close(s.done)
		}()
	})
}

func (s *session) alive() error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case <-s.ready:
		return nil
	default:
		return camera.ErrNotReady
	}
}

// ---- hardware.Control ---------------------------------------------------------

func (s *session) SetCaptureOptions(opts hardware.CaptureOptions) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.commitErr != nil {
		return s.p.commitErr
	}
	s.p.last = &opts
	s.log.Debug("capture options applied")
	return nil
}

func (s *session) StartFocusAndMetering(pt camera.MeteringPoint, flags hardware.MeteringFlag) error {
	if err := s.alive(); err != nil {
		return err
	}
	if err := pt.Validate(); err != nil {
		return err
	}
	s.log.Debug("metering",
		zap.Float32("x", pt.X), zap.Float32("y", pt.Y),
		zap.Uint8("flags", uint8(flags)),
	)
	return nil
}

func (s *session) SetTargetRotation(degrees int) error {
	if err := s.alive(); err != nil {
		return err
	}
	switch degrees {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("unsupported rotation %d", degrees)
	}
	s.p.mu.Lock()
	s.p.rotation = degrees
	s.p.mu.Unlock()
	return nil
}

// ---- hardware.VideoCapture ----------------------------------------------------

func (s *session) StartRecording(t *media.Target, listener func(hardware.RecordEvent)) (hardware.ActiveRecording, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		return nil, ErrRecordingOpen
	}

	r := &recording{s: s, target: t, listener: listener}
	s.rec = r
	s.log.Info("recording opened", zap.String("uri", t.URI))
	go listener(hardware.RecordEvent{Kind: hardware.RecordStarted, URI: t.URI})
	return r, nil
}

// recording is an open output; it owns target's writer.
type recording struct {
	s        *session
	target   *media.Target
	listener func(hardware.RecordEvent)

	mu       sync.Mutex // guards paused, finished, frames
	paused   bool
	finished bool
	frames   int64
}

func (r *recording) writeFrame(ts int64) {
	r.mu.Lock()
	if r.finished || r.paused {
		r.mu.Unlock()
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	_, err := r.target.Write(b[:])
	if err == nil {
		r.frames++
	}
	r.mu.Unlock()

	if err != nil {
		r.detach()
		r.fail(fmt.Errorf("write frame: %w", err))
	}
}

func (r *recording) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrSessionClosed
	}
	r.paused = true
	return nil
}

func (r *recording) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrSessionClosed
	}
	r.paused = false
	return nil
}

// Stop finalizes the output and reports the outcome to the listener too.
func (r *recording) Stop() error {
	r.detach()

	r.s.p.mu.Lock()
	injected := r.s.p.finalizeErr
	r.s.p.finalizeErr = nil
	r.s.p.mu.Unlock()

	ok, err := r.finish()
	if !ok {
		return ErrSessionClosed
	}
	if err == nil {
		err = injected
	}
	r.listener(hardware.RecordEvent{Kind: hardware.RecordFinalized, URI: r.target.URI, Err: err})
	return err
}

// fail finalizes on the provider side; the listener sees a terminal event.
func (r *recording) fail(cause error) {
	ok, err := r.finish()
	if !ok {
		return
	}
	if err != nil {
		cause = errors.Join(cause, err)
	}
	r.listener(hardware.RecordEvent{Kind: hardware.RecordFinalized, URI: r.target.URI, Err: cause})
}

// finish closes the writer. ok is false if the recording was already
// finalized.
func (r *recording) finish() (ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false, nil
	}
	r.finished = true
	r.s.log.Info("recording finalized", zap.String("uri", r.target.URI), zap.Int64("frames", r.frames))
	return true, r.target.Close()
}

func (r *recording) detach() {
	r.s.mu.Lock()
	if r.s.rec == r {
		r.s.rec = nil
	}
	r.s.mu.Unlock()
}
