// Package recording owns the recording lifecycle and its elapsed-time clock.
//
//	Idle → Recording → {Paused ⇄ Recording} → Idle
//
// The elapsed clock is an independent ticker (1 Hz by default) that runs only
// while Recording. It is cancelled, and waited for, on every pause and stop,
// so no tick lands after the state has left Recording.
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/hardware"
	"github.com/edirooss/hdr-recorder/internal/media"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTickInterval is the elapsed-time resolution.
const DefaultTickInterval = time.Second

type Options struct {
	TickInterval time.Duration    // DefaultTickInterval if zero
	Now          func() time.Time // output naming clock; time.Now if nil

	// OnAbort is called once per hardware failure, with the controller lock
	// held, right after the failure returns it to Idle and before OnTerminal.
	// It must not call back into the Controller.
	OnAbort func()
	// OnTerminal is called once, outside any lock, when the hardware
	// finalizes a recording with an error the controller did not ask for.
	// The controller is already Idle when it runs.
	OnTerminal func(err error)
	// OnSaved is called when a recording finalizes successfully.
	OnSaved func(uri string)
}

// Status is a read-only view of the controller.
type Status struct {
	ID             string                `json:"id,omitempty"`
	State          camera.RecordingState `json:"state"`
	ElapsedSeconds int64                 `json:"elapsed_seconds"`
	Name           string                `json:"name,omitempty"`
	URI            string                `json:"uri,omitempty"`
}

// Controller is the RecordingController.
type Controller struct {
	log  *zap.Logger
	sink media.Sink
	opts Options

	elapsed atomic.Int64

	mu     sync.Mutex // guards everything below
	state  camera.RecordingState
	rec    hardware.ActiveRecording
	target *media.Target
	id     string
	gen    uint64 // bumped per hardware recording; stale events are ignored

	tickCancel context.CancelFunc
	tickDone   chan struct{}
}

func NewController(log *zap.Logger, sink media.Sink, opts Options) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		log:  log.Named("recording"),
		sink: sink,
		opts: opts,
	}
}

// Start opens an output and begins a hardware recording on capture.
// It fails with camera.ErrNotReady when there is no capture handle.
func (c *Controller) Start(capture hardware.VideoCapture) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != camera.Idle {
		return fmt.Errorf("start from %s: %w", c.state, camera.ErrInvalidTransition)
	}
	if capture == nil {
		return fmt.Errorf("start recording: %w", camera.ErrNotReady)
	}

	target, err := c.sink.BeginOutput(media.OutputName(c.opts.Now()), media.MimeMP4)
	if err != nil {
		return fmt.Errorf("begin output: %w", err)
	}

	c.gen++
	gen := c.gen
	rec, err := capture.StartRecording(target, func(ev hardware.RecordEvent) {
		c.onRecordEvent(gen, ev)
	})
	if err != nil {
		// the hardware never took ownership of the writer
		_ = target.Close()
		return fmt.Errorf("start recording: %w", err)
	}

	c.rec = rec
	c.target = target
	c.id = uuid.NewString()
	c.state = camera.Recording
	c.elapsed.Store(0)
	c.startTickerLocked()

	c.log.Info("recording started",
		zap.String("recording_id", c.id),
		zap.String("name", target.Name),
	)
	return nil
}

// Pause suspends the recording; elapsed time freezes.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != camera.Recording {
		return fmt.Errorf("pause from %s: %w", c.state, camera.ErrInvalidTransition)
	}
	if err := c.rec.Pause(); err != nil {
		return fmt.Errorf("pause recording: %w", err)
	}
	c.stopTickerLocked()
	c.state = camera.Paused
	c.log.Debug("recording paused", zap.Int64("elapsed", c.elapsed.Load()))
	return nil
}

// Resume continues a paused recording from the frozen elapsed value.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != camera.Paused {
		return fmt.Errorf("resume from %s: %w", c.state, camera.ErrInvalidTransition)
	}
	if err := c.rec.Resume(); err != nil {
		return fmt.Errorf("resume recording: %w", err)
	}
	c.state = camera.Recording
	c.startTickerLocked()
	c.log.Debug("recording resumed", zap.Int64("elapsed", c.elapsed.Load()))
	return nil
}

// Stop finalizes the recording from Recording or Paused and returns to Idle.
// The controller is Idle even when finalization fails; the error wraps
// camera.ErrRecordingFinalize.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.state.Active() {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("stop from %s: %w", st, camera.ErrInvalidTransition)
	}
	rec, id := c.rec, c.id
	c.resetLocked()
	c.mu.Unlock()

	// finalize may deliver record events synchronously
	if err := rec.Stop(); err != nil {
		c.log.Warn("recording finalize failed", zap.String("recording_id", id), zap.Error(err))
		return fmt.Errorf("%w: %w", camera.ErrRecordingFinalize, err)
	}
	c.log.Info("recording stopped", zap.String("recording_id", id))
	return nil
}

// Close stops an active recording, if any.
func (c *Controller) Close() error {
	err := c.Stop()
	if errors.Is(err, camera.ErrInvalidTransition) {
		return nil
	}
	return err
}

func (c *Controller) State() camera.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed returns the elapsed recording time in whole seconds.
func (c *Controller) Elapsed() int64 { return c.elapsed.Load() }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{State: c.state, ElapsedSeconds: c.elapsed.Load(), ID: c.id}
	if c.target != nil {
		s.Name, s.URI = c.target.Name, c.target.URI
	}
	return s
}

// onRecordEvent runs on the provider's goroutine.
func (c *Controller) onRecordEvent(gen uint64, ev hardware.RecordEvent) {
	switch {
	case ev.Kind == hardware.RecordStarted:
		c.log.Debug("hardware recording started", zap.String("uri", ev.URI))

	case ev.Err == nil:
		c.log.Info("video saved", zap.String("uri", ev.URI))
		if c.opts.OnSaved != nil {
			c.opts.OnSaved(ev.URI)
		}

	default:
		c.mu.Lock()
		current := gen == c.gen && c.state.Active()
		if current {
			c.resetLocked()
			if c.opts.OnAbort != nil {
				c.opts.OnAbort()
			}
		}
		c.mu.Unlock()

		if !current {
			// Stop already returned this failure to its caller
			c.log.Debug("stale finalize error", zap.Error(ev.Err))
			return
		}
		c.log.Error("recording terminated", zap.String("uri", ev.URI), zap.Error(ev.Err))
		if c.opts.OnTerminal != nil {
			c.opts.OnTerminal(fmt.Errorf("%w: %w", camera.ErrRecordingFinalize, ev.Err))
		}
	}
}

// resetLocked returns to Idle and detaches the hardware recording.
func (c *Controller) resetLocked() {
	c.stopTickerLocked()
	c.gen++
	c.rec = nil
	c.target = nil
	c.id = ""
	c.state = camera.Idle
	c.elapsed.Store(0)
}

func (c *Controller) startTickerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.tickCancel, c.tickDone = cancel, done

	go func() {
		defer close(done)
		t := time.NewTicker(c.opts.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			// cancellation may race a tick that already fired
			if ctx.Err() != nil {
				return
			}
			c.elapsed.Add(1)
		}
	}()
}

// stopTickerLocked cancels the ticker and waits for it to exit.
func (c *Controller) stopTickerLocked() {
	if c.tickCancel == nil {
		return
	}
	c.tickCancel()
	<-c.tickDone
	c.tickCancel, c.tickDone = nil, nil
}
