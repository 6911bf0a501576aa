package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"github.com/edirooss/hdr-recorder/internal/hardware"
	"github.com/edirooss/hdr-recorder/internal/hardware/sim"
	"github.com/edirooss/hdr-recorder/internal/media"
	"github.com/edirooss/hdr-recorder/internal/recording"
)

// ---- fakes -------------------------------------------------------------------------

type fakeProvider struct {
	mu      sync.Mutex
	binds   []camera.SessionConfig
	unbinds int
	cur     *fakeSession
	bindErr func(cfg camera.SessionConfig) error
	ctl     *fakeControl
}

func newFakeProvider() *fakeProvider { return &fakeProvider{ctl: &fakeControl{}} }

func (p *fakeProvider) Bind(_ context.Context, uc camera.UseCases, cb hardware.Callbacks) (hardware.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return nil, errors.New("already bound")
	}
	if p.bindErr != nil {
		if err := p.bindErr(uc.Config); err != nil {
			return nil, err
		}
	}
	p.binds = append(p.binds, uc.Config)
	s := &fakeSession{ready: make(chan struct{}), done: make(chan struct{}), ctl: p.ctl, cb: cb}
	close(s.ready)
	p.cur = s
	return s, nil
}

func (p *fakeProvider) UnbindAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unbinds++
	if p.cur != nil {
		close(p.cur.done)
		p.cur = nil
	}
}

func (p *fakeProvider) bound() []camera.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]camera.SessionConfig(nil), p.binds...)
}

func (p *fakeProvider) current() *fakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

type fakeSession struct {
	ready, done chan struct{}
	ctl         *fakeControl
	cb          hardware.Callbacks
	capture     fakeCapture
}

func (s *fakeSession) Ready() <-chan struct{}              { return s.ready }
func (s *fakeSession) Done() <-chan struct{}               { return s.done }
func (s *fakeSession) Control() hardware.Control           { return s.ctl }
func (s *fakeSession) VideoCapture() hardware.VideoCapture { return &s.capture }

type fakeControl struct {
	mu        sync.Mutex
	applied   []hardware.CaptureOptions
	commitErr error
	metering  []hardware.MeteringFlag
	rotation  int
}

func (c *fakeControl) SetCaptureOptions(opts hardware.CaptureOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commitErr != nil {
		return c.commitErr
	}
	c.applied = append(c.applied, opts)
	return nil
}

func (c *fakeControl) StartFocusAndMetering(_ camera.MeteringPoint, flags hardware.MeteringFlag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metering = append(c.metering, flags)
	return nil
}

func (c *fakeControl) SetTargetRotation(degrees int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotation = degrees
	return nil
}

func (c *fakeControl) last() hardware.CaptureOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied[len(c.applied)-1]
}

func (c *fakeControl) commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

type fakeCapture struct {
	mu      sync.Mutex
	stopErr error
	last    *fakeRecording
}

func (c *fakeCapture) StartRecording(t *media.Target, l func(hardware.RecordEvent)) (hardware.ActiveRecording, error) {
	r := &fakeRecording{capture: c, uri: t.URI, listener: l}
	c.mu.Lock()
	c.last = r
	c.mu.Unlock()
	return r, nil
}

func (c *fakeCapture) current() *fakeRecording {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fakeRecording struct {
	capture  *fakeCapture
	uri      string
	listener func(hardware.RecordEvent)
}

func (r *fakeRecording) Pause() error  { return nil }
func (r *fakeRecording) Resume() error { return nil }
func (r *fakeRecording) Stop() error {
	r.capture.mu.Lock()
	err := r.capture.stopErr
	r.capture.mu.Unlock()
	r.listener(hardware.RecordEvent{Kind: hardware.RecordFinalized, URI: r.uri, Err: err})
	return err
}

type memSink struct{}

type memWriter struct{ bytes.Buffer }

func (*memWriter) Close() error { return nil }

func (memSink) BeginOutput(name, mimeType string) (*media.Target, error) {
	return &media.Target{ID: name, Name: name, MimeType: mimeType, URI: "mem://" + name, WriteCloser: &memWriter{}}, nil
}

func newStarted(t *testing.T, p *fakeProvider, opts Options) *SessionOrchestrator {
	t.Helper()
	if opts.Recording.TickInterval == 0 {
		opts.Recording = recording.Options{TickInterval: time.Hour}
	}
	o := NewSessionOrchestrator(nil, p, memSink{}, opts)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func dispatch(t *testing.T, o *SessionOrchestrator, ev camera.Event) {
	t.Helper()
	if err := o.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch %s: %v", ev.Kind(), err)
	}
}

// ---- tests -------------------------------------------------------------------------

func TestStartBindsAndCommits(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	if got := p.bound(); len(got) != 1 || got[0] != camera.DefaultSessionConfig() {
		t.Fatalf("binds %+v", got)
	}
	if p.ctl.commits() != 1 {
		t.Fatalf("commits %d", p.ctl.commits())
	}
	opts := p.ctl.last()
	if opts.AETargetFps == nil || *opts.AETargetFps != [2]int{30, 30} {
		t.Fatalf("fps range not committed: %+v", opts)
	}
	if opts.Tonemap != hardware.TonemapHighQuality {
		t.Fatalf("tonemap %v", opts.Tonemap)
	}

	st := o.State()
	if !st.Ready || st.SessionID == "" || st.Settings.Uncommitted {
		t.Fatalf("state %+v", st)
	}
}

func TestCycleResolutionRoundTrip(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	for i := 0; i < 3; i++ {
		dispatch(t, o, camera.CycleResolution{})
	}
	if q := o.State().Config.Quality; q != camera.QualityFHD {
		t.Fatalf("quality %s after 3 cycles", q)
	}
	binds := p.bound()
	if len(binds) != 4 {
		t.Fatalf("binds %d, want 4", len(binds))
	}
	want := []camera.Quality{camera.QualityFHD, camera.QualityUHD, camera.QualityHighest, camera.QualityFHD}
	for i, b := range binds {
		if b.Quality != want[i] {
			t.Fatalf("bind %d quality %s, want %s", i, b.Quality, want[i])
		}
	}
	// every rebind re-commits
	if p.ctl.commits() != 4 {
		t.Fatalf("commits %d, want 4", p.ctl.commits())
	}
}

func TestCycleFpsRecommitsRange(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.CycleFps{})
	if o.State().Config.FrameRate != camera.FPS60 {
		t.Fatalf("fps %d", o.State().Config.FrameRate)
	}
	if r := *p.ctl.last().AETargetFps; r != [2]int{60, 60} {
		t.Fatalf("fps range %v", r)
	}
}

func TestCycleGammaSelectsCurve(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.CycleGammaMode{})
	if g := o.State().Config.Gamma; g != camera.GammaHLG {
		t.Fatalf("gamma %s", g)
	}
	last := p.ctl.last()
	if last.Tonemap != hardware.TonemapContrastCurve || last.TonemapCurve == nil {
		t.Fatalf("curve not committed: %+v", last)
	}
}

func TestSdrMutualExclusionBothOrders(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.SetForceDisplaySdr{Enabled: true})
	dispatch(t, o, camera.SetSdrToneMap{Enabled: true})
	cfg := o.State().Config
	if !cfg.SdrToneMap || cfg.ForceDisplaySdr {
		t.Fatalf("tone map after force: %+v", cfg)
	}

	dispatch(t, o, camera.SetForceDisplaySdr{Enabled: true})
	cfg = o.State().Config
	if cfg.SdrToneMap || !cfg.ForceDisplaySdr {
		t.Fatalf("force after tone map: %+v", cfg)
	}
}

func TestForceDisplaySdrIsDisplayOnly(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})
	commits := p.ctl.commits()

	dispatch(t, o, camera.SetForceDisplaySdr{Enabled: true})
	if !o.State().Config.ForceDisplaySdr {
		t.Fatal("force display not set")
	}
	if len(p.bound()) != 1 || p.ctl.commits() != commits {
		t.Fatalf("display-only toggle rebound (%d) or committed (%d)", len(p.bound()), p.ctl.commits())
	}
}

func TestSettingsOnlyEventsDoNotRebind(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.SetNoiseReduction{Enabled: false})
	dispatch(t, o, camera.CycleFocusMode{})

	if len(p.bound()) != 1 {
		t.Fatalf("settings change rebound: %d binds", len(p.bound()))
	}
	last := p.ctl.last()
	if last.NoiseReduction != hardware.NoiseReductionOff || last.Edge != hardware.EdgeOff {
		t.Fatalf("noise reduction not committed: %+v", last)
	}
	if last.AF != hardware.AFOff || last.FocusDistance == nil {
		t.Fatalf("manual focus not committed: %+v", last)
	}
	if st := o.State().Settings; st.Focus != camera.FocusManual || st.NoiseReduction {
		t.Fatalf("pending view %+v", st)
	}
}

func TestCommitFailureKeepsPending(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	p.ctl.mu.Lock()
	p.ctl.commitErr = errors.New("stale handle")
	p.ctl.mu.Unlock()

	err := o.Dispatch(context.Background(), camera.SetNoiseReduction{Enabled: false})
	if !errors.Is(err, camera.ErrCommitFailure) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	st := o.State().Settings
	if st.NoiseReduction || !st.Uncommitted {
		t.Fatalf("pending lost: %+v", st)
	}
	if n := o.Notices(1); len(n) != 1 || n[0].Message != "camera not ready" {
		t.Fatalf("notices %+v", n)
	}

	// the next successful bind applies it
	p.ctl.mu.Lock()
	p.ctl.commitErr = nil
	p.ctl.mu.Unlock()
	dispatch(t, o, camera.CycleFps{})
	if last := p.ctl.last(); last.NoiseReduction != hardware.NoiseReductionOff {
		t.Fatalf("retry did not apply pending: %+v", last)
	}
	if o.State().Settings.Uncommitted {
		t.Fatal("still uncommitted after rebind")
	}
}

func TestCommitWithoutSessionIsNotReady(t *testing.T) {
	o := NewSessionOrchestrator(nil, newFakeProvider(), memSink{}, Options{})
	defer o.Close()

	err := o.Dispatch(context.Background(), camera.SetNoiseReduction{Enabled: false})
	if !errors.Is(err, camera.ErrCommitFailure) || !errors.Is(err, camera.ErrNotReady) {
		t.Fatalf("expected not-ready commit failure, got %v", err)
	}
	if err := o.Dispatch(context.Background(), camera.ToggleRecording{}); !errors.Is(err, camera.ErrNotReady) {
		t.Fatalf("record before bind: %v", err)
	}
	if o.State().Recording.State != camera.Idle {
		t.Fatal("recording started without a session")
	}
}

func TestBindFailureRestoresPrevious(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	boom := errors.New("resolution unsupported")
	p.mu.Lock()
	p.bindErr = func(cfg camera.SessionConfig) error {
		if cfg.Quality == camera.QualityUHD {
			return boom
		}
		return nil
	}
	p.mu.Unlock()

	err := o.Dispatch(context.Background(), camera.CycleResolution{})
	if !errors.Is(err, camera.ErrBindFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected bind failure, got %v", err)
	}
	st := o.State()
	if st.Config.Quality != camera.QualityFHD {
		t.Fatalf("config changed on failure: %+v", st.Config)
	}
	if !st.Ready {
		t.Fatal("previous config not restored")
	}
	binds := p.bound()
	if last := binds[len(binds)-1]; last.Quality != camera.QualityFHD {
		t.Fatalf("restored bind %+v", last)
	}
}

func TestBindFailureWithoutRestore(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	p.mu.Lock()
	p.bindErr = func(camera.SessionConfig) error { return errors.New("camera gone") }
	p.mu.Unlock()

	err := o.Dispatch(context.Background(), camera.CycleFps{})
	if !errors.Is(err, camera.ErrBindFailure) {
		t.Fatalf("expected bind failure, got %v", err)
	}
	if o.State().Ready {
		t.Fatal("ready without a bound session")
	}
	if err := o.Dispatch(context.Background(), camera.TapToMeter{Point: camera.MeteringPoint{X: .5, Y: .5}}); !errors.Is(err, camera.ErrNotReady) {
		t.Fatalf("meter without session: %v", err)
	}
}

func TestReconfigureRetriesAfterFailedStart(t *testing.T) {
	p := newFakeProvider()
	p.bindErr = func(camera.SessionConfig) error { return errors.New("camera busy") }
	o := NewSessionOrchestrator(nil, p, memSink{}, Options{Recording: recording.Options{TickInterval: time.Hour}})
	t.Cleanup(func() { _ = o.Close() })

	if err := o.Start(context.Background()); !errors.Is(err, camera.ErrBindFailure) {
		t.Fatalf("start: %v", err)
	}
	if o.State().Ready {
		t.Fatal("ready after failed start")
	}

	p.mu.Lock()
	p.bindErr = nil
	p.mu.Unlock()

	// same config: nothing is bound, so this must rebind
	if err := o.Reconfigure(context.Background(), o.State().Config); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !o.State().Ready {
		t.Fatal("not ready after retry")
	}
	if n := len(p.bound()); n != 1 {
		t.Fatalf("binds %d, want 1", n)
	}
	if p.ctl.commits() == 0 {
		t.Fatal("settings not committed after retry")
	}
}

func TestReconfigureRetriesAfterFailedRebind(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	p.mu.Lock()
	p.bindErr = func(camera.SessionConfig) error { return errors.New("camera gone") }
	p.mu.Unlock()
	if err := o.Dispatch(context.Background(), camera.CycleFps{}); !errors.Is(err, camera.ErrBindFailure) {
		t.Fatalf("expected bind failure, got %v", err)
	}

	p.mu.Lock()
	p.bindErr = nil
	p.mu.Unlock()
	if err := o.Reconfigure(context.Background(), o.State().Config); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := o.State(); !st.Ready || st.Config != camera.DefaultSessionConfig() {
		t.Fatalf("state after retry %+v", st)
	}
}

func TestRestoreOutlivesCallerContext(t *testing.T) {
	p := sim.NewProvider(nil, sim.Options{BindDelay: 50 * time.Millisecond})
	o := NewSessionOrchestrator(nil, p, memSink{}, Options{Recording: recording.Options{TickInterval: time.Hour}})
	t.Cleanup(func() { _ = o.Close() })
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := o.State().Config

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := o.Dispatch(ctx, camera.CycleFps{})
	if !errors.Is(err, camera.ErrBindFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected bind failure on deadline, got %v", err)
	}
	if strings.Contains(err.Error(), "restore previous config") {
		t.Fatalf("restore failed: %v", err)
	}

	st := o.State()
	if !st.Ready {
		t.Fatal("previous config not restored")
	}
	if st.Config != before {
		t.Fatalf("config %+v, want %+v", st.Config, before)
	}
	fps := int(before.FrameRate)
	if opts, ok := p.LastOptions(); !ok || opts.AETargetFps == nil || *opts.AETargetFps != [2]int{fps, fps} {
		t.Fatalf("restored commit %+v %v", opts, ok)
	}
}

func TestRebindRejectedWhileRecording(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.ToggleRecording{})
	for _, ev := range []camera.Event{
		camera.CycleFps{},
		camera.CycleResolution{},
		camera.CycleGammaMode{},
		camera.SetSdrToneMap{Enabled: true},
	} {
		if err := o.Dispatch(context.Background(), ev); !errors.Is(err, camera.ErrRecordingActive) {
			t.Fatalf("%s while recording: %v", ev.Kind(), err)
		}
	}
	dispatch(t, o, camera.TogglePause{})
	if err := o.Dispatch(context.Background(), camera.CycleFps{}); !errors.Is(err, camera.ErrRecordingActive) {
		t.Fatalf("cycle fps while paused: %v", err)
	}

	// settings-only changes still commit in place
	dispatch(t, o, camera.SetNoiseReduction{Enabled: false})
	if len(p.bound()) != 1 {
		t.Fatalf("rebound during recording: %d binds", len(p.bound()))
	}
	if o.State().Config != camera.DefaultSessionConfig() {
		t.Fatalf("config changed: %+v", o.State().Config)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	if err := o.Dispatch(context.Background(), camera.TogglePause{}); !errors.Is(err, camera.ErrInvalidTransition) {
		t.Fatalf("pause while idle: %v", err)
	}

	dispatch(t, o, camera.ToggleRecording{})
	if s := o.State().Recording.State; s != camera.Recording {
		t.Fatalf("state %s", s)
	}
	dispatch(t, o, camera.TogglePause{})
	if s := o.State().Recording.State; s != camera.Paused {
		t.Fatalf("state %s", s)
	}
	dispatch(t, o, camera.TogglePause{})
	if s := o.State().Recording.State; s != camera.Recording {
		t.Fatalf("state %s", s)
	}
	dispatch(t, o, camera.ToggleRecording{})
	if s := o.State().Recording; s.State != camera.Idle || s.ElapsedSeconds != 0 {
		t.Fatalf("after stop %+v", s)
	}

	n := o.Notices(1)
	if len(n) != 1 || !strings.HasPrefix(n[0].Message, "video saved to mem://") || n[0].Level != NoticeInfo {
		t.Fatalf("notices %+v", n)
	}
}

// publishOnce runs the poller until it has published a new snapshot.
func publishOnce(t *testing.T, o *SessionOrchestrator) {
	t.Helper()
	before := o.Stats().Version
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for o.Stats().Version == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.Stats().Version == before {
		t.Fatal("no snapshot published")
	}
}

func TestStatsResetAtRecordingStart(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.ToggleRecording{})
	video := p.current().cb.Video
	// anchor + 25 frames over one second at a 30 fps target: 5 dropped
	video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: 0})
	for i := int64(1); i <= 25; i++ {
		video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: i * int64(time.Second) / 25})
	}
	dispatch(t, o, camera.ToggleRecording{})

	publishOnce(t, o)
	if snap := o.Stats(); snap.DroppedFrames != 5 || snap.EffectiveFps != 0 {
		t.Fatalf("final tally %+v", snap)
	}

	dispatch(t, o, camera.ToggleRecording{})
	publishOnce(t, o)
	if snap := o.Stats(); snap.DroppedFrames != 0 || snap.AddedFrames != 0 {
		t.Fatalf("not reset at start: %+v", snap)
	}
}

func TestHardwareFailureStopsStats(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.ToggleRecording{})
	video := p.current().cb.Video
	video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: 0})
	for i := int64(1); i <= 25; i++ {
		video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: i * int64(time.Second) / 25})
	}

	rec := p.current().capture.current()
	rec.listener(hardware.RecordEvent{Kind: hardware.RecordFinalized, URI: rec.uri, Err: errors.New("storage removed")})
	if o.State().Recording.State != camera.Idle {
		t.Fatal("not idle after hardware failure")
	}

	// frames after the failure are not counted
	for i := int64(26); i <= 50; i++ {
		video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: i * int64(time.Second) / 25})
	}
	publishOnce(t, o)
	if snap := o.Stats(); snap.EffectiveFps != 0 || snap.DroppedFrames != 5 {
		t.Fatalf("accounting after failure %+v", snap)
	}

	// the next recording counts again
	dispatch(t, o, camera.ToggleRecording{})
	video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: 51 * int64(time.Second) / 25})
	for i := int64(52); i <= 77; i++ {
		video(camera.FrameSample{Fields: camera.FieldTimestamp, TimestampNs: i * int64(time.Second) / 25})
	}
	publishOnce(t, o)
	if snap := o.Stats(); snap.EffectiveFps == 0 {
		t.Fatalf("accounting not restarted %+v", snap)
	}
}

func TestFinalizeFailureNotifies(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.ToggleRecording{})
	capture := &p.current().capture
	capture.mu.Lock()
	capture.stopErr = errors.New("write error")
	capture.mu.Unlock()

	err := o.Dispatch(context.Background(), camera.ToggleRecording{})
	if !errors.Is(err, camera.ErrRecordingFinalize) {
		t.Fatalf("expected finalize error, got %v", err)
	}
	if o.State().Recording.State != camera.Idle {
		t.Fatal("not idle after finalize failure")
	}
	n := o.Notices(1)
	if len(n) != 1 || n[0].Message != "recording failed" || n[0].Level != NoticeError {
		t.Fatalf("notices %+v", n)
	}

	// retry-capable
	capture.mu.Lock()
	capture.stopErr = nil
	capture.mu.Unlock()
	dispatch(t, o, camera.ToggleRecording{})
	dispatch(t, o, camera.ToggleRecording{})
}

func TestTapToMeter(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	dispatch(t, o, camera.TapToMeter{Point: camera.MeteringPoint{X: .25, Y: .75}})
	p.ctl.mu.Lock()
	flags := p.ctl.metering
	p.ctl.mu.Unlock()
	if len(flags) != 1 || flags[0] != hardware.MeteringAE|hardware.MeteringAWB {
		t.Fatalf("metering flags %v", flags)
	}
	if err := o.Dispatch(context.Background(), camera.TapToMeter{Point: camera.MeteringPoint{X: -1}}); !errors.Is(err, camera.ErrInvalidArgument) {
		t.Fatalf("invalid point: %v", err)
	}
}

func TestRotationSurvivesRebind(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	if err := o.SetRotation(45); !errors.Is(err, camera.ErrInvalidArgument) {
		t.Fatalf("rotation 45: %v", err)
	}
	if err := o.SetRotation(90); err != nil {
		t.Fatalf("rotation: %v", err)
	}
	p.ctl.mu.Lock()
	p.ctl.rotation = 0
	p.ctl.mu.Unlock()

	dispatch(t, o, camera.CycleFps{})
	p.ctl.mu.Lock()
	got := p.ctl.rotation
	p.ctl.mu.Unlock()
	if got != 90 || o.State().Rotation != 90 {
		t.Fatalf("rotation after rebind %d / %d", got, o.State().Rotation)
	}
}

func TestRotationBusy(t *testing.T) {
	p := newFakeProvider()
	o := newStarted(t, p, Options{})

	if !o.mutation.TryLock() {
		t.Fatal("gate held")
	}
	err := o.SetRotation(180)
	o.mutation.Unlock()
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestInitialSettingsFromOptions(t *testing.T) {
	p := newFakeProvider()
	newStarted(t, p, Options{
		Config:                camera.DefaultSessionConfig().WithFrameRate(camera.FPS24),
		Focus:                 camera.FocusManual,
		DisableNoiseReduction: true,
	})
	last := p.ctl.last()
	if last.AF != hardware.AFOff || last.NoiseReduction != hardware.NoiseReductionOff || *last.AETargetFps != [2]int{24, 24} {
		t.Fatalf("initial commit %+v", last)
	}
}

func TestCloseStopsRecordingAndUnbinds(t *testing.T) {
	p := newFakeProvider()
	o := NewSessionOrchestrator(nil, p, memSink{}, Options{Recording: recording.Options{TickInterval: time.Hour}})
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	dispatch(t, o, camera.ToggleRecording{})

	if err := o.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if p.current() != nil {
		t.Fatal("still bound after close")
	}
	if o.State().Recording.State != camera.Idle {
		t.Fatal("recording survived close")
	}
	if err := o.Dispatch(context.Background(), camera.CycleFps{}); !errors.Is(err, camera.ErrClosed) {
		t.Fatalf("dispatch after close: %v", err)
	}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run after close: %v", err)
	}
}

type statusRecorder struct {
	mu  sync.Mutex
	got []UiState
}

func (r *statusRecorder) PublishStatus(_ context.Context, st UiState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, st)
	return nil
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestRunPublishesStatus(t *testing.T) {
	rec := &statusRecorder{}
	p := newFakeProvider()
	o := newStarted(t, p, Options{StatusPublisher: rec, StatusInterval: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.count() < 2 {
		t.Fatalf("status published %d times", rec.count())
	}
	rec.mu.Lock()
	first := rec.got[0]
	rec.mu.Unlock()
	if first.SessionID != o.ID() || !first.Ready {
		t.Fatalf("published %+v", first)
	}
}

func TestNoticeBufferNewestFirst(t *testing.T) {
	var b noticeBuffer
	if b.Read(5) != nil {
		t.Fatal("empty buffer returned notices")
	}
	for i := 0; i < 510; i++ {
		b.Append(NoticeInfo, "n", "")
	}
	all := b.Read(0)
	if len(all) != 500 {
		t.Fatalf("len %d", len(all))
	}
	if all[0].Seq != 510 || all[499].Seq != 11 {
		t.Fatalf("order: first %d last %d", all[0].Seq, all[499].Seq)
	}
	if got := b.Read(3); len(got) != 3 || got[2].Seq != 508 {
		t.Fatalf("read 3: %+v", got)
	}
}
