// Package client is the participant side: a reconnecting relay connection
// with presence and lock mirroring, the chat manager, and the session that
// composes them with the transcription controller.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Parley/internal/bus"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("not connected to relay")
	ErrNotJoined    = errors.New("join a channel first")
)

// RemoteError is a relay error reply to one of our requests.
type RemoteError struct {
	Ref     string
	Message string
	Reason  string
}

func (e *RemoteError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("relay: %s (%s)", e.Message, e.Reason)
	}
	return "relay: " + e.Message
}

type Options struct {
	ServerURL         string
	JoinTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	WriteTimeout      time.Duration
	Dialer            *websocket.Dialer
}

func OptionsFrom(cfg config.Client) Options {
	return Options{
		ServerURL:         cfg.ServerURL,
		JoinTimeout:       cfg.JoinTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
	}
}

func (o *Options) withDefaults() {
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReconnectDelayMax < o.ReconnectDelay {
		o.ReconnectDelayMax = o.ReconnectDelay
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// nextDelay doubles the reconnect delay up to max.
func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// Conn is a relay connection that redials on loss and rejoins the last
// channel. Inbound events are emitted on the bus from the read goroutine.
type Conn struct {
	opts Options
	bus  *bus.Bus

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	ready     chan struct{}
	identity  *protocol.JoinPayload
	pending   map[string]chan protocol.Envelope

	writeMu sync.Mutex
	ref     atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewConn(opts Options, b *bus.Bus) *Conn {
	opts.withDefaults()
	return &Conn{
		opts:    opts,
		bus:     b,
		ready:   make(chan struct{}),
		pending: make(map[string]chan protocol.Envelope),
		done:    make(chan struct{}),
	}
}

// Start launches the dial loop. It returns immediately.
func (c *Conn) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(ctx)
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	delay := c.opts.ReconnectDelay
	for {
		ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.ServerURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			final := attempt > c.opts.ReconnectAttempts
			log.Warn().Err(err).Str("module", "client.conn").Int("attempt", attempt).Bool("final", final).Msg("connect failed")
			c.bus.Emit(ConnectFailed{Attempt: attempt, Final: final, Err: err})
			if final {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = nextDelay(delay, c.opts.ReconnectDelayMax)
			continue
		}
		attempt = 0
		delay = c.opts.ReconnectDelay
		c.serve(ctx, ws)
		if ctx.Err() != nil {
			return
		}
	}
}

// serve owns one live connection until it drops.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.connected = true
	close(c.ready)
	ident := c.identity
	c.mu.Unlock()

	log.Info().Str("module", "client.conn").Str("url", c.opts.ServerURL).Msg("connected")
	c.bus.Emit(Connected{})
	if ident != nil {
		if err := c.write(protocol.JoinChannel, "", ident); err != nil {
			log.Error().Err(err).Str("module", "client.conn").Msg("rejoin")
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	var readErr error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.conn").Msg("bad frame")
			continue
		}
		c.dispatch(env)
	}

	c.mu.Lock()
	c.ws = nil
	c.connected = false
	c.ready = make(chan struct{})
	pending := c.pending
	c.pending = make(map[string]chan protocol.Envelope)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	_ = ws.Close()

	log.Warn().Err(readErr).Str("module", "client.conn").Msg("disconnected")
	c.bus.Emit(Disconnected{Err: readErr})
}

func (c *Conn) dispatch(env protocol.Envelope) {
	if env.Ref != "" {
		c.mu.Lock()
		ch, ok := c.pending[env.Ref]
		if ok {
			delete(c.pending, env.Ref)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			return
		}
	}

	switch env.Type {
	case protocol.ChannelJoined:
		var p protocol.ChannelJoinedPayload
		if c.bind(env, &p) {
			c.bus.Emit(ChannelJoined{p})
		}
	case protocol.UserJoined:
		var p protocol.PresencePayload
		if c.bind(env, &p) {
			c.bus.Emit(UserJoined{p})
		}
	case protocol.UserLeft:
		var p protocol.PresencePayload
		if c.bind(env, &p) {
			c.bus.Emit(UserLeft{p})
		}
	case protocol.ChatMessage:
		var m domain.ChatMessage
		if c.bind(env, &m) {
			c.bus.Emit(ChatReceived{Message: m})
		}
	case protocol.Transcription:
		var p protocol.TranscriptionPayload
		if c.bind(env, &p) {
			c.bus.Emit(TranscriptionReceived{p})
		}
	case protocol.MetadataChanged:
		var p protocol.MetadataChangedPayload
		if c.bind(env, &p) {
			c.bus.Emit(MetadataChanged{p})
		}
	case protocol.Error:
		var p protocol.ErrorPayload
		if c.bind(env, &p) {
			log.Warn().Str("module", "client.conn").Str("message", p.Message).Msg("relay error")
			c.bus.Emit(ErrorReceived{Ref: env.Ref, ErrorPayload: p})
		}
	case protocol.Ack, protocol.LockAcquired, protocol.Pong:
	default:
		log.Debug().Str("module", "client.conn").Str("type", string(env.Type)).Msg("unhandled event")
	}
}

func (c *Conn) bind(env protocol.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		log.Warn().Err(err).Str("module", "client.conn").Str("type", string(env.Type)).Msg("bad payload")
		return false
	}
	return true
}

// Join records the channel identity and joins it now or on the next
// connect. It waits for the connection at most JoinTimeout and then returns
// nil anyway; the outcome arrives later as Connected and ChannelJoined.
func (c *Conn) Join(ctx context.Context, channel domain.ChannelName, user domain.User) error {
	ident := &protocol.JoinPayload{Channel: channel, UserID: user.ID, UserName: user.Username}
	c.mu.Lock()
	c.identity = ident
	connected := c.connected
	ready := c.ready
	c.mu.Unlock()

	if connected {
		if err := c.write(protocol.JoinChannel, "", ident); err != nil {
			log.Warn().Err(err).Str("module", "client.conn").Msg("join send failed, will rejoin on connect")
		}
		return nil
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		log.Warn().Str("module", "client.conn").Dur("timeout", c.opts.JoinTimeout).Msg("connection timeout, continuing in background")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Identity returns the channel identity last passed to Join.
func (c *Conn) Identity() (protocol.JoinPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return protocol.JoinPayload{}, false
	}
	return *c.identity, true
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes a fire-and-forget event.
func (c *Conn) Send(t protocol.EventType, payload any) error {
	return c.write(t, "", payload)
}

// Request writes an event with a fresh ref and waits for the reply that
// carries it. A relay error reply is returned as *RemoteError.
func (c *Conn) Request(ctx context.Context, t protocol.EventType, payload any) (protocol.Envelope, error) {
	ref := strconv.FormatUint(c.ref.Add(1), 10)
	ch := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	c.pending[ref] = ch
	c.mu.Unlock()

	if err := c.write(t, ref, payload); err != nil {
		c.forget(ref)
		return protocol.Envelope{}, err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return protocol.Envelope{}, ErrNotConnected
		}
		if env.Type == protocol.Error {
			var p protocol.ErrorPayload
			_ = env.Bind(&p)
			return env, &RemoteError{Ref: ref, Message: p.Message, Reason: p.Error}
		}
		return env, nil
	case <-ctx.Done():
		c.forget(ref)
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *Conn) forget(ref string) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

func (c *Conn) write(t protocol.EventType, ref string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(t, ref, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// Close leaves the channel if connected and stops the dial loop.
func (c *Conn) Close() {
	c.mu.Lock()
	ident := c.identity
	c.identity = nil
	c.mu.Unlock()
	if ident != nil {
		if err := c.write(protocol.LeaveChannel, "", protocol.LeavePayload{Channel: ident.Channel, UserID: ident.UserID}); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Warn().Err(err).Str("module", "client.conn").Msg("leave")
		}
	}
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}
