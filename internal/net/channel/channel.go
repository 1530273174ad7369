// Package channel is the client side of the relay connection: a websocket
// that delivers decoded envelopes to a Listener.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lightcycle/internal/net/proto"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
	"lightcycle/logging/network"
)

const (
	DefaultRetryDelay   = time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// ErrNotOpen is returned by Send before the connection opens or after it
// closes.
var ErrNotOpen = errors.New("channel: connection not open")

// DecodeError reports an inbound frame that is not a valid envelope. The
// frame is never delivered.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Listener receives connection events. Callbacks run on the channel's
// reader goroutine.
type Listener interface {
	OnOpen()
	OnMessage(env proto.Envelope)
	OnClose(err error)
	OnError(err error)
}

// Options tunes a Channel.
type Options struct {
	RetryDelay   time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
	Logger       telemetry.Logger
	Publisher    logging.Publisher
}

// Channel is a websocket connection to the relay.
type Channel struct {
	url      string
	listener Listener
	opts     Options

	mu   sync.Mutex
	conn *websocket.Conn
	open atomic.Bool
}

// New returns a channel for url. Nothing is dialled until Run.
func New(url string, listener Listener, opts Options) *Channel {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	opts.Logger = telemetry.OrDiscard(opts.Logger)
	if opts.Publisher == nil {
		opts.Publisher = logging.NopPublisher()
	}
	return &Channel{url: url, listener: listener, opts: opts}
}

// IsOpen reports whether Send can write.
func (c *Channel) IsOpen() bool {
	return c.open.Load()
}

// Run dials until the relay accepts the connection, retrying on a fixed
// delay, then reads until the connection ends. It returns ctx.Err() when
// cancelled and nil when the connection closed.
func (c *Channel) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.open.Store(true)

	actor := logging.EntityRef{ID: c.url, Kind: logging.EntityKindConnection}
	network.ConnectionOpened(ctx, c.opts.Publisher, actor, network.ConnectionPayload{Remote: c.url}, nil)
	c.listener.OnOpen()

	readerDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			conn.Close()
		case <-readerDone:
		}
	}()

	readErr := c.readLoop(ctx, conn)
	close(readerDone)
	c.open.Store(false)
	conn.Close()

	reason := "closed"
	if readErr != nil {
		reason = readErr.Error()
	}
	network.ConnectionClosed(ctx, c.opts.Publisher, actor, network.ConnectionPayload{Remote: c.url, Reason: reason}, nil)
	c.listener.OnClose(readErr)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; ; attempt++ {
		conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			return conn, nil
		}
		c.opts.Logger.Printf("connecting to %s (attempt %d): %v; retrying in %s", c.url, attempt, err, c.opts.RetryDelay)
		c.listener.OnError(err)

		timer := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// readLoop returns nil on a normal close.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	actor := logging.EntityRef{ID: c.url, Kind: logging.EntityKindConnection}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		env, err := proto.DecodeEnvelope(frame)
		if err != nil {
			network.DecodeFailed(ctx, c.opts.Publisher, actor, network.DecodeFailedPayload{Error: err.Error(), Bytes: len(frame)}, nil)
			c.opts.Logger.Printf("discarding malformed message from %s: %v", c.url, err)
			c.listener.OnError(&DecodeError{Frame: frame, Err: err})
			continue
		}

		network.EnvelopeReceived(ctx, c.opts.Publisher, logging.PeerRef(env.From), network.EnvelopePayload{
			Type:        env.TypeName(),
			Destination: env.Destination,
			From:        env.From,
			Bytes:       len(frame),
		}, nil)
		c.listener.OnMessage(env)
	}
}

// Send writes env to the relay. Safe for concurrent use.
func (c *Channel) Send(env proto.Envelope) error {
	if !c.open.Load() {
		return ErrNotOpen
	}
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotOpen
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", env.TypeName(), err)
	}

	network.EnvelopeSent(context.Background(), c.opts.Publisher, logging.EntityRef{ID: c.url, Kind: logging.EntityKindConnection}, network.EnvelopePayload{
		Type:        env.TypeName(),
		Destination: env.Destination,
		Bytes:       len(data),
	}, nil)
	return nil
}
