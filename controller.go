package livecoach

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deepgetty/live-coach/media"
	"github.com/deepgetty/live-coach/playback"
	"github.com/deepgetty/live-coach/shared"
)

// SessionState is the controller's lifecycle position. CLOSED and ERRORED
// are terminal; a dead session is never resumed, the caller constructs a
// fresh controller instead.
type SessionState int

const (
	StateInitializing SessionState = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// transportSession is what the controller needs from the live channel.
type transportSession interface {
	media.ChunkSink
	Close() error
}

// AcquireFunc and ConnectFunc are construction seams; production wiring uses
// media.Acquire and OpenChannel, tests substitute fakes.
type (
	AcquireFunc func(logger shared.LoggerAdapter) (media.CaptureHandle, error)
	ConnectFunc func(ctx context.Context, logger shared.LoggerAdapter, cfg ChannelConfig, cb ChannelCallbacks) (transportSession, error)
)

// ControllerConfig configures one coaching session.
type ControllerConfig struct {
	Prefs   *shared.Preferences
	Role    Role
	Routine *RoutineContext

	Acquire AcquireFunc
	Connect ConnectFunc

	// Clock and Sink drive the playback scheduler. Defaults: wall clock and
	// the speaker sink. Tests inject deterministic substitutes.
	Clock playback.Clock
	Sink  playback.Sink
}

// Controller owns the lifecycle of one coaching session: capture, transport,
// playback, and the optional clip recorder. Handles are exclusive to this
// instance and are never reused by another session.
type Controller struct {
	id     string
	logger shared.LoggerAdapter
	cfg    ControllerConfig

	mu       sync.Mutex
	state    SessionState
	err      error
	started  bool
	closed   bool
	capture  media.CaptureHandle
	channel  transportSession
	sched    *playback.Scheduler
	sampler  *media.Sampler
	recorder *media.ClipRecorder

	samplerCancel context.CancelFunc
	pumpCancel    context.CancelFunc

	done chan struct{}
}

func NewController(logger shared.LoggerAdapter, cfg ControllerConfig) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.Prefs == nil {
		return nil, shared.ErrNoConfig
	}
	if cfg.Role == RoleRoutineCoach && cfg.Routine == nil {
		return nil, fmt.Errorf("%w: routine coach requires a routine context", shared.ErrNoConfig)
	}
	if cfg.Acquire == nil {
		cfg.Acquire = func(l shared.LoggerAdapter) (media.CaptureHandle, error) {
			return media.Acquire(l)
		}
	}
	if cfg.Connect == nil {
		cfg.Connect = func(ctx context.Context, l shared.LoggerAdapter, ccfg ChannelConfig, cb ChannelCallbacks) (transportSession, error) {
			return OpenChannel(ctx, l, ccfg, cb)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = playback.NewWallClock()
	}
	id := uuid.NewString()
	return &Controller{
		id:     id,
		logger: logger.With(zap.String("session", id)),
		cfg:    cfg,
		state:  StateInitializing,
		done:   make(chan struct{}),
	}, nil
}

// Start mounts the session: acquire capture, open the transport, wire the
// audio pump and frame sampler. It returns once the transport handshake has
// completed or failed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	c.started = true
	c.mu.Unlock()

	capture, err := c.cfg.Acquire(c.logger)
	if err != nil {
		c.logger.Error("acquiring capture", err)
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Closed while the permission prompt was pending; discard the late
		// acquisition instead of applying it to a torn-down session.
		c.mu.Unlock()
		capture.Release()
		return shared.ErrSessionClosed
	}
	c.capture = capture
	c.recorder = media.NewClipRecorder(c.logger, c.cfg.Prefs.OutputDir)
	c.state = StateConnecting
	c.mu.Unlock()
	c.logger.Info("capture mounted, connecting")

	sink := c.cfg.Sink
	if sink == nil {
		speaker, err := playback.NewSpeakerSink(c.logger, c.cfg.Clock, 100)
		if err != nil {
			c.logger.Error("creating speaker sink", err)
			c.fail(err)
			return err
		}
		sink = speaker
	}
	sched := playback.NewScheduler(c.logger, c.cfg.Clock, sink)

	c.mu.Lock()
	c.cfg.Sink = sink
	c.sched = sched
	c.mu.Unlock()

	channel, err := c.cfg.Connect(ctx, c.logger, ChannelConfig{
		APIKey:  c.cfg.Prefs.APIKey,
		Model:   c.cfg.Prefs.LiveModel,
		Voice:   c.cfg.Prefs.Voice,
		Role:    c.cfg.Role,
		Routine: c.cfg.Routine,
	}, ChannelCallbacks{
		OnOpen:    c.onTransportOpen,
		OnMessage: c.onTransportMessage,
		OnClose:   c.onTransportClose,
		OnError:   c.onTransportError,
	})
	if err != nil {
		c.logger.Error("opening live channel", err)
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = channel.Close()
		return shared.ErrSessionClosed
	}
	c.channel = channel

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	c.pumpCancel = pumpCancel
	samplerCtx, samplerCancel := context.WithCancel(context.Background())
	c.samplerCancel = samplerCancel
	c.sampler = media.NewSampler(c.logger, capture.Frames(), channel, capture.CameraEnabled)
	c.mu.Unlock()

	go c.pumpAudio(pumpCtx, capture, channel)
	go c.sampler.Run(samplerCtx)
	return nil
}

// pumpAudio reads fixed-size microphone buffers, encodes them, and forwards
// them upstream. A muted mic keeps the cadence with silence so the remote
// endpointing never sees the stream stall.
func (c *Controller) pumpAudio(ctx context.Context, capture media.CaptureHandle, channel transportSession) {
	src := capture.Audio()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		samples, err := src.ReadChunk()
		if err != nil {
			if err != io.EOF && !c.isClosed() {
				c.logger.Error("reading microphone", err)
			}
			return
		}
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		if !capture.MicEnabled() {
			for i := range samples {
				samples[i] = 0
			}
		}
		if rec := c.clipRecorder(); rec != nil {
			rec.Append(samples)
		}
		if err := channel.Send(media.EncodeAudioChunk(samples)); err != nil {
			if c.isClosed() {
				return
			}
			c.logger.Warn("dropping audio chunk", zap.Error(err))
		}
	}
}

func (c *Controller) onTransportOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateConnecting {
		return
	}
	c.state = StateActive
	c.logger.Info("session active")
}

func (c *Controller) onTransportMessage(msg *IncomingMessage) {
	c.mu.Lock()
	if c.closed || c.sched == nil {
		c.mu.Unlock()
		return
	}
	sched := c.sched
	c.mu.Unlock()

	if msg.Interrupted {
		sched.Interrupt()
	}
	if msg.Audio != nil {
		sched.Enqueue(msg.Audio)
	}
}

func (c *Controller) onTransportClose() {
	c.teardown(StateClosed, nil)
}

func (c *Controller) onTransportError(err error) {
	c.teardown(StateErrored, err)
}

// SetCameraEnabled toggles the camera gate. Honored only while ACTIVE; the
// track itself keeps running so re-enabling never renegotiates.
func (c *Controller) SetCameraEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.capture == nil {
		return
	}
	c.capture.SetCameraEnabled(enabled)
}

// SetMicEnabled toggles the microphone gate without touching the transport.
func (c *Controller) SetMicEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.capture == nil {
		return
	}
	c.capture.SetMicEnabled(enabled)
}

func (c *Controller) CameraEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil && c.capture.CameraEnabled()
}

func (c *Controller) MicEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil && c.capture.MicEnabled()
}

// StartClip begins recording the local stream, capped at
// media.MaxClipSeconds.
func (c *Controller) StartClip() error {
	c.mu.Lock()
	rec := c.recorder
	haveStream := c.capture != nil && !c.closed
	c.mu.Unlock()
	if !haveStream || rec == nil {
		return shared.ErrNoActiveStream
	}
	return rec.Start()
}

// StopClip finalizes an in-flight recording; no-op when idle.
func (c *Controller) StopClip() error {
	if rec := c.clipRecorder(); rec != nil {
		return rec.Stop()
	}
	return nil
}

func (c *Controller) clipRecorder() *media.ClipRecorder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorder
}

// Recorder exposes the session's clip recorder for status surfaces.
func (c *Controller) Recorder() *media.ClipRecorder {
	return c.clipRecorder()
}

func (c *Controller) SessionID() string { return c.id }

func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports the session-fatal error after the controller reaches ERRORED.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the session down: sampler timer, capture tracks, input pump,
// playback, transport, recording timer — in that order, exactly once.
// Subsequent calls are no-ops.
func (c *Controller) Close() error {
	c.teardown(StateClosed, nil)
	return nil
}

func (c *Controller) fail(err error) {
	c.teardown(StateErrored, err)
}

func (c *Controller) teardown(target SessionState, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if target == StateClosed {
		c.state = StateClosing
	}
	sampler := c.sampler
	samplerCancel := c.samplerCancel
	capture := c.capture
	pumpCancel := c.pumpCancel
	sched := c.sched
	sink := c.cfg.Sink
	channel := c.channel
	recorder := c.recorder
	c.mu.Unlock()

	// Stop producers before the transport so nothing writes into a channel
	// that is mid-teardown.
	if samplerCancel != nil {
		samplerCancel()
	}
	if sampler != nil {
		sampler.Close()
	}
	if capture != nil {
		capture.Release()
	}
	if pumpCancel != nil {
		pumpCancel()
	}
	if sched != nil {
		sched.Close()
	}
	if closer, ok := sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Error("closing playback sink", err)
		}
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			c.logger.Error("closing live channel", err)
		}
	}
	if recorder != nil {
		if err := recorder.Stop(); err != nil {
			c.logger.Error("stopping clip recorder", err)
		}
	}

	c.mu.Lock()
	c.state = target
	c.err = cause
	c.mu.Unlock()
	close(c.done)

	if cause != nil {
		c.logger.Error("session terminated", cause, zap.String("state", target.String()))
	} else {
		c.logger.Info("session closed", zap.String("state", target.String()))
	}
}
