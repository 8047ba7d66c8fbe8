package livecoach

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deepgetty/live-coach/media"
	"github.com/deepgetty/live-coach/shared"
)

const (
	defaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	dialTimeout         = 15 * time.Second
	closeGraceTimeout   = 2 * time.Second
)

// ChannelCallbacks deliver transport lifecycle events. OnMessage fires in
// arrival order from a single goroutine; there are never concurrent
// invocations for the same channel.
type ChannelCallbacks struct {
	OnOpen    func()
	OnMessage func(msg *IncomingMessage)
	OnClose   func()
	OnError   func(err error)
}

// ChannelConfig describes one live session's transport parameters.
type ChannelConfig struct {
	APIKey  string
	Model   string
	Voice   string
	Role    Role
	Routine *RoutineContext

	// Endpoint overrides the live websocket URL. Tests point it at a local
	// server; empty means the production endpoint.
	Endpoint string
}

// Channel is a bidirectional live transport session. It sends encoded media
// chunks upstream and delivers server audio/interruption messages through
// the registered callbacks.
type Channel struct {
	logger shared.LoggerAdapter
	conn   *websocket.Conn
	cb     ChannelCallbacks

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ media.ChunkSink = (*Channel)(nil)

// OpenChannel dials the live endpoint, performs the setup handshake with the
// role-specific instruction payload, fires OnOpen, and starts the read loop.
// A missing credential fails with ErrAuthentication before any dial.
func OpenChannel(ctx context.Context, logger shared.LoggerAdapter, cfg ChannelConfig, cb ChannelCallbacks) (*Channel, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: configure an API key in the admin preferences", shared.ErrAuthentication)
	}
	if cfg.Model == "" {
		cfg.Model = shared.DefaultLiveModel
	}
	if cfg.Voice == "" {
		cfg.Voice = shared.DefaultVoice
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultLiveEndpoint
	}
	wsURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing live endpoint: %w", err)
	}
	q := wsURL.Query()
	q.Set("key", cfg.APIKey)
	wsURL.RawQuery = q.Encode()

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing live endpoint: %v", shared.ErrConnection, err)
	}

	setup, err := encodeSetupFrame(cfg.Model, cfg.Voice, buildInstruction(cfg.Role, cfg.Routine))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshaling setup frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: sending setup frame: %v", shared.ErrConnection, err)
	}

	// The first server frame must acknowledge the setup.
	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: reading setup ack: %v", shared.ErrConnection, err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	var ackFrame serverFrame
	if err := decodeInto(ack, &ackFrame); err != nil || ackFrame.SetupComplete == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected first frame", shared.ErrConnection)
	}

	chCtx, cancel := context.WithCancelCause(ctx)
	c := &Channel{
		logger: logger.With(zap.String("component", "transport")),
		conn:   conn,
		cb:     cb,
		ctx:    chCtx,
		cancel: cancel,
	}
	c.logger.Info("live channel open", zap.String("model", cfg.Model), zap.String("voice", cfg.Voice))
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go c.readLoop()
	return c, nil
}

// Send forwards one encoded chunk upstream. Fire-and-forget: the capture
// pump and frame sampler bound the call rate.
func (c *Channel) Send(chunk media.Chunk) error {
	if c.closed.Load() {
		return shared.ErrSessionClosed
	}
	frame, err := encodeMediaFrame(chunk)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrEncoding, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: writing chunk: %v", shared.ErrConnection, err)
	}
	return nil
}

// Close shuts the channel down. Idempotent; safe after an error or a prior
// close.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGraceTimeout),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
		c.cancel(errors.New("channel closed"))
		c.logger.Info("live channel closed")
	})
	return nil
}

// Done is closed when the channel terminates for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish(nil)
				return
			}
			c.finish(fmt.Errorf("%w: %v", shared.ErrConnection, err))
			return
		}
		msg, err := decodeServerFrame(data)
		if err != nil {
			// A malformed frame is logged and dropped; the session continues.
			c.logger.Warn("dropping malformed server frame", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(msg)
		}
	}
}

func (c *Channel) finish(err error) {
	c.closed.Store(true)
	if err != nil {
		c.cancel(err)
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return
	}
	c.cancel(errors.New("channel finished"))
	if c.cb.OnClose != nil {
		c.cb.OnClose()
	}
}
