package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zendrive/zendrive-monitor/internal/audio"
	"github.com/zendrive/zendrive-monitor/internal/types"
)

// Session errors.
var (
	// ErrSessionBusy is returned by Start while a recording is active or being torn down.
	ErrSessionBusy = errors.New("capture session already active")
	// ErrPermissionDenied is returned by Start when microphone access is refused.
	ErrPermissionDenied = errors.New("microphone permission is required")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("capture session closed")
	// ErrStartAborted is returned by Start when a Stop or background
	// transition arrives before the recording resource is acquired.
	ErrStartAborted = errors.New("start aborted before recording began")
)

// User-visible status messages, mirrored by the presentation layer.
const (
	msgIdle       = "Press record to start"
	msgRecording  = "Recording..."
	msgProcessing = "Processing recording..."
	msgPermission = "Microphone permission is required"
	msgStartFail  = "Failed to start recording"
	msgSaved      = "Recording saved"
	msgMeterFail  = "Error during recording update"
)

// Default timeouts for host operations. Acquire, status reads and release
// all suspend; none of them may stall the session indefinitely.
const (
	defaultAcquireTimeout = 10 * time.Second
	defaultStatusTimeout  = 2 * time.Second
	defaultReleaseTimeout = 10 * time.Second
)

// Config configures a capture session.
type Config struct {
	// Input is the audio input device identifier (empty = platform default).
	Input string
	// MeteringInterval is the period of the level sampling tick.
	MeteringInterval time.Duration
	// FloorDB and CeilingDB bound the dB range mapped onto the [0,1] level signal.
	FloorDB   float64
	CeilingDB float64

	AcquireTimeout time.Duration
	StatusTimeout  time.Duration
	ReleaseTimeout time.Duration

	// OnStatus, if set, is invoked after every observable state or level change.
	// Called from the session goroutine; implementations must not call back
	// into the session synchronously.
	OnStatus func(types.CaptureStatus)
	// OnArtifact, if set, is invoked with the finished recording after a
	// successful stop.
	OnArtifact func(Artifact)
}

// Session owns one audio-recording lifecycle and its metering loop.
//
// All state is confined to a single goroutine; Start, Stop, lifecycle
// events and metering ticks are messages into that goroutine, so the
// sampler and a user-initiated Stop can never race on the resource.
type Session struct {
	device Device
	perms  Permissions
	cfg    Config

	cmds     chan any
	results  chan any
	loopDone chan struct{}
}

// Commands from the public API.
type (
	startCmd    struct{ reply chan error }
	stopCmd     struct{ reply chan error }
	lifecycle   struct{ state LifecycleState }
	snapshotCmd struct{ reply chan types.CaptureStatus }
	closeCmd    struct{ reply chan struct{} }
)

// Results posted back by host-operation goroutines.
type (
	permResult struct {
		perm  Permission
		err   error
		reply chan error
	}
	acquireResult struct {
		handle Handle
		err    error
		reply  chan error
	}
	tickResult struct {
		gen    uint64
		status HandleStatus
		err    error
	}
	releaseResult struct {
		gen      uint64
		artifact Artifact
		err      error
		reply    chan error
	}
)

// NewSession creates a session in the idle state and starts its owning goroutine.
func NewSession(device Device, perms Permissions, cfg Config) *Session {
	if cfg.MeteringInterval <= 0 {
		cfg.MeteringInterval = types.DefaultMeteringIntervalMs * time.Millisecond
	}
	if cfg.CeilingDB <= cfg.FloorDB {
		cfg.FloorDB = audio.MinDB
		cfg.CeilingDB = audio.MaxDB
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}

	s := &Session{
		device:   device,
		perms:    perms,
		cfg:      cfg,
		cmds:     make(chan any),
		results:  make(chan any, 8),
		loopDone: make(chan struct{}),
	}
	go s.run()
	return s
}

// Start begins a new recording. It is rejected with ErrSessionBusy while a
// recording is active or being torn down, and with ErrPermissionDenied when
// microphone access is refused.
func (s *Session) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, startCmd{reply: reply}); err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

// Stop finalizes the active recording. Stopping an idle session is a no-op.
// A session in the error state is acknowledged back to idle.
func (s *Session) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, stopCmd{reply: reply}); err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

// HandleLifecycle delivers an app-lifecycle transition. Background and
// inactive transitions force-stop an active recording.
func (s *Session) HandleLifecycle(state LifecycleState) {
	_ = s.send(context.Background(), lifecycle{state: state})
}

// Status returns a snapshot of the current session state.
func (s *Session) Status() types.CaptureStatus {
	reply := make(chan types.CaptureStatus, 1)
	if err := s.send(context.Background(), snapshotCmd{reply: reply}); err != nil {
		return types.CaptureStatus{State: types.SessionIdle, StatusMessage: msgIdle}
	}
	return <-reply
}

// Close tears the session down, cancelling the metering task and releasing
// any held recording best-effort. Failures during the forced release are
// logged, never returned; no caller remains to observe them.
func (s *Session) Close() {
	reply := make(chan struct{})
	if err := s.send(context.Background(), closeCmd{reply: reply}); err != nil {
		return // already closed
	}
	<-reply
}

func (s *Session) send(ctx context.Context, cmd any) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.loopDone:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) wait(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-s.loopDone:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postResult delivers an async host-operation result to the loop, dropping
// it if the session has already been torn down.
func (s *Session) postResult(r any) {
	select {
	case s.results <- r:
	case <-s.loopDone:
	}
}

// sessionLoop is the mutable state owned exclusively by run().
type sessionLoop struct {
	s *Session

	state   types.SessionState
	handle  Handle
	gen     uint64 // bumped whenever handle is set or cleared; stale results are ignored
	ticker  *time.Ticker
	tickCh  <-chan time.Time
	inTick  bool // a status read is in flight; skip ticks, never queue them
	level   float64
	levelDB float64
	peakDB  float64
	peaks   *audio.PeakHolder

	artifact   string
	message    string
	errMessage string
	startedAt  time.Time

	abortStart  bool
	stopWaiters []chan error
}

func (s *Session) run() {
	defer close(s.loopDone)

	l := &sessionLoop{
		s:       s,
		state:   types.SessionIdle,
		level:   0,
		levelDB: s.cfg.FloorDB,
		peakDB:  s.cfg.FloorDB,
		peaks:   audio.NewPeakHolder(),
		message: msgIdle,
	}

	for {
		var tick <-chan time.Time
		if l.ticker != nil {
			tick = l.tickCh
		}

		select {
		case cmd := <-s.cmds:
			switch c := cmd.(type) {
			case startCmd:
				l.handleStart(c.reply)
			case stopCmd:
				l.handleStop(c.reply)
			case lifecycle:
				l.handleLifecycle(c.state)
			case snapshotCmd:
				c.reply <- l.snapshot()
			case closeCmd:
				l.teardown()
				close(c.reply)
				return
			}
		case res := <-s.results:
			switch r := res.(type) {
			case permResult:
				l.handlePermResult(r)
			case acquireResult:
				l.handleAcquireResult(r)
			case tickResult:
				l.handleTickResult(r)
			case releaseResult:
				l.handleReleaseResult(r)
			}
		case <-tick:
			l.handleTick()
		}
	}
}

func (l *sessionLoop) snapshot() types.CaptureStatus {
	st := types.CaptureStatus{
		State:         l.state,
		Level:         l.level,
		LevelDB:       l.levelDB,
		PeakDB:        l.peakDB,
		ArtifactPath:  l.artifact,
		StatusMessage: l.message,
		Error:         l.errMessage,
	}
	if !l.startedAt.IsZero() && l.state == types.SessionRecording {
		st.StartedAtMs = l.startedAt.UnixMilli()
	}
	return st
}

func (l *sessionLoop) publish() {
	if l.s.cfg.OnStatus != nil {
		l.s.cfg.OnStatus(l.snapshot())
	}
}

// --- Start path ---

func (l *sessionLoop) handleStart(reply chan error) {
	switch l.state {
	case types.SessionRecording, types.SessionStopping:
		reply <- ErrSessionBusy
		return
	case types.SessionRequestingPermission:
		reply <- ErrSessionBusy
		return
	case types.SessionError:
		// Starting out of the error state acknowledges the error.
		l.errMessage = ""
	case types.SessionIdle:
	}

	ctx := context.Background()
	switch l.s.perms.Status(ctx) {
	case PermissionGranted:
		l.beginAcquire(reply)
	case PermissionDenied:
		l.message = msgPermission
		l.publish()
		reply <- ErrPermissionDenied
	default:
		l.state = types.SessionRequestingPermission
		l.publish()
		go func() {
			perm, err := l.s.perms.Request(ctx)
			l.s.postResult(permResult{perm: perm, err: err, reply: reply})
		}()
	}
}

func (l *sessionLoop) handlePermResult(r permResult) {
	if l.state != types.SessionRequestingPermission {
		r.reply <- ErrSessionClosed
		return
	}
	if l.abortStart {
		l.abortStart = false
		l.state = types.SessionIdle
		l.message = msgIdle
		l.publish()
		r.reply <- ErrStartAborted
		l.settleStopWaiters(nil)
		return
	}
	if r.err != nil || r.perm != PermissionGranted {
		l.state = types.SessionIdle
		l.message = msgPermission
		l.publish()
		if r.err != nil {
			r.reply <- fmt.Errorf("request permission: %w", r.err)
			return
		}
		r.reply <- ErrPermissionDenied
		return
	}
	l.beginAcquire(r.reply)
}

func (l *sessionLoop) beginAcquire(reply chan error) {
	// Acquisition suspends; keep the loop responsive and finish the
	// transition when the result arrives.
	l.state = types.SessionRequestingPermission
	l.abortStart = false
	l.publish()

	cfg := DeviceConfig{Input: l.s.cfg.Input, Metering: true}
	timeout := l.s.cfg.AcquireTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		handle, err := l.s.device.Acquire(ctx, cfg)
		l.s.postResult(acquireResult{handle: handle, err: err, reply: reply})
	}()
}

func (l *sessionLoop) handleAcquireResult(r acquireResult) {

	if r.err != nil {
		// A Stop queued against this acquisition must not abort the next one.
		l.abortStart = false
		l.state = types.SessionIdle
		l.message = msgStartFail
		l.publish()
		r.reply <- fmt.Errorf("acquire recording resource: %w", r.err)
		l.settleStopWaiters(nil)
		return
	}

	if l.abortStart {
		// Stop arrived while acquisition was in flight; release immediately.
		l.abortStart = false
		l.state = types.SessionIdle
		l.message = msgIdle
		l.publish()
		go releaseQuietly(r.handle, l.s.cfg.ReleaseTimeout)
		r.reply <- ErrStartAborted
		l.settleStopWaiters(nil)
		return
	}

	l.handle = r.handle
	l.gen++
	l.artifact = ""
	l.level = 0
	l.levelDB = l.s.cfg.FloorDB
	l.peakDB = l.s.cfg.FloorDB
	l.peaks.Reset()
	l.startedAt = time.Now()
	l.message = msgRecording
	l.state = types.SessionRecording

	// The metering task exists iff the recording handle does; they are
	// created together here and destroyed together in stopMetering.
	l.ticker = time.NewTicker(l.s.cfg.MeteringInterval)
	l.tickCh = l.ticker.C

	l.publish()
	slog.Info("recording started", "input", l.s.cfg.Input)
	r.reply <- nil
}

// --- Metering tick ---

func (l *sessionLoop) handleTick() {
	if l.handle == nil || l.state != types.SessionRecording {
		return
	}
	if l.inTick {
		// Previous status read still in flight: skip, don't queue.
		return
	}
	l.inTick = true

	handle := l.handle
	gen := l.gen
	timeout := l.s.cfg.StatusTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		status, err := handle.Status(ctx)
		l.s.postResult(tickResult{gen: gen, status: status, err: err})
	}()
}

func (l *sessionLoop) handleTickResult(r tickResult) {
	l.inTick = false

	// The handle this read was issued against is gone; nothing to do.
	if r.gen != l.gen || l.handle == nil || l.state != types.SessionRecording {
		return
	}

	if r.err != nil {
		// A resource that cannot report status is untrustworthy; tear the
		// session down rather than retrying against it.
		slog.Error("metering status read failed", "error", r.err)
		handle := l.handle
		l.stopMetering()
		l.handle = nil
		l.gen++
		l.level = 0
		l.levelDB = l.s.cfg.FloorDB
		l.peakDB = l.s.cfg.FloorDB
		l.artifact = ""
		l.state = types.SessionError
		l.message = msgMeterFail
		l.errMessage = fmt.Sprintf("metering read failed: %v", r.err)
		l.publish()
		go releaseQuietly(handle, l.s.cfg.ReleaseTimeout)
		return
	}

	if !r.status.IsRecording {
		// The resource stopped underneath us; force the stop transition.
		slog.Warn("recording status mismatch detected, stopping")
		l.beginRelease(nil)
		return
	}

	if r.status.MeteringDB != nil {
		l.levelDB = max(*r.status.MeteringDB, l.s.cfg.FloorDB)
		l.level = audio.Normalize(l.levelDB, l.s.cfg.FloorDB, l.s.cfg.CeilingDB)
		l.peakDB = l.peaks.Update(l.levelDB, time.Now())
		l.publish()
	}
}

// --- Stop path ---

func (l *sessionLoop) handleStop(reply chan error) {
	switch l.state {
	case types.SessionStopping:
		// Already stopping; settle this caller with the same outcome.
		l.stopWaiters = append(l.stopWaiters, reply)
		return
	case types.SessionRequestingPermission:
		l.abortStart = true
		l.stopWaiters = append(l.stopWaiters, reply)
		return
	case types.SessionError:
		// Stop acknowledges a terminal error back to idle.
		l.state = types.SessionIdle
		l.errMessage = ""
		l.message = msgIdle
		l.publish()
		reply <- nil
		return
	case types.SessionIdle:
		// Idempotent: no active recording is not an error.
		if l.message == msgRecording {
			l.message = msgIdle
			l.publish()
		}
		reply <- nil
		return
	case types.SessionRecording:
		l.beginRelease(reply)
	}
}

// beginRelease transitions Recording -> Stopping. The metering task is
// cancelled synchronously BEFORE the release is awaited so a tick can never
// sample a resource mid-teardown, and the handle reference is cleared before
// the suspending release call.
func (l *sessionLoop) beginRelease(reply chan error) {
	handle := l.handle

	l.stopMetering()
	l.handle = nil
	l.gen++

	l.state = types.SessionStopping
	l.message = msgProcessing
	l.level = 0
	l.levelDB = l.s.cfg.FloorDB
	l.peakDB = l.s.cfg.FloorDB
	l.publish()

	if reply != nil {
		l.stopWaiters = append(l.stopWaiters, reply)
	}

	gen := l.gen
	timeout := l.s.cfg.ReleaseTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		artifact, err := handle.StopAndRelease(ctx)
		l.s.postResult(releaseResult{gen: gen, artifact: artifact, err: err})
	}()
}

func (l *sessionLoop) handleReleaseResult(r releaseResult) {
	if l.state != types.SessionStopping || r.gen != l.gen {
		return
	}

	waiters := l.stopWaiters
	l.stopWaiters = nil

	if r.err != nil {
		// The reference was already dropped, so a stuck resource can never
		// block a subsequent Start; surface the failure and settle callers.
		slog.Error("recording release failed", "error", r.err)
		l.artifact = ""
		l.state = types.SessionError
		l.errMessage = fmt.Sprintf("release failed: %v", r.err)
		l.message = msgStartFail
		l.publish()
		for _, w := range waiters {
			w <- fmt.Errorf("stop and release recording: %w", r.err)
		}
		return
	}

	l.artifact = r.artifact.Location
	l.state = types.SessionIdle
	l.message = msgSaved
	l.startedAt = time.Time{}
	l.publish()
	slog.Info("recording finished", "artifact", r.artifact.Location, "size_bytes", r.artifact.SizeBytes)

	if l.s.cfg.OnArtifact != nil {
		l.s.cfg.OnArtifact(r.artifact)
	}
	for _, w := range waiters {
		w <- nil
	}
}

func (l *sessionLoop) handleLifecycle(state LifecycleState) {
	if state == LifecycleForeground {
		return
	}
	// Background or inactive: force-stop within the tick it is observed.
	switch l.state {
	case types.SessionRecording:
		slog.Info("app moved to background, stopping recording")
		l.beginRelease(nil)
	case types.SessionRequestingPermission:
		l.abortStart = true
	default:
	}
}

// settleStopWaiters answers every pending Stop caller with the same outcome.
func (l *sessionLoop) settleStopWaiters(err error) {
	for _, w := range l.stopWaiters {
		w <- err
	}
	l.stopWaiters = nil
}

// stopMetering destroys the metering task. Safe to call with no task.
func (l *sessionLoop) stopMetering() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
		l.tickCh = nil
	}
	l.inTick = false
}

// teardown is the forced any-state -> idle transition on session disposal.
func (l *sessionLoop) teardown() {
	l.stopMetering()

	for _, w := range l.stopWaiters {
		w <- ErrSessionClosed
	}
	l.stopWaiters = nil

	if l.handle != nil {
		handle := l.handle
		l.handle = nil
		l.gen++
		// Best-effort synchronous release; double-release downstream is a
		// no-op, and there is no caller left to propagate failures to.
		ctx, cancel := context.WithTimeout(context.Background(), l.s.cfg.ReleaseTimeout)
		defer cancel()
		if _, err := handle.StopAndRelease(ctx); err != nil {
			slog.Warn("release during teardown failed", "error", err)
		}
	}
	l.state = types.SessionIdle
}

// releaseQuietly releases a handle whose outcome no longer matters.
func releaseQuietly(handle Handle, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := handle.StopAndRelease(ctx); err != nil {
		slog.Warn("best-effort release failed", "error", err)
	}
}
