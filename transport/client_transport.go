// Package transport implements the client side of the fs-rpc wire: one TCP connection,
// one command in flight, and silent reconnect-and-resend when the connection stalls.
//
// Every attempt runs under a short per-attempt deadline so a half-dead TCP connection is
// noticed quickly; the whole call runs under a much larger overall deadline. Between the
// two, the transport keeps reconnecting and resending the identical frame:
//
//	Disconnected ──dial──▶ Connected ──write──▶ AwaitingResponse ──read──▶ Connected
//	      ▲                                            │
//	      └────────── timeout / I/O / protocol error ──┘  (close, back off, resend)
//
// Delivery is at-least-once. The transport cannot know whether the server executed an
// attempt whose response was lost, so capabilities reached through it must tolerate
// running twice, or the server must de-duplicate on the command id.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"fs-rpc/codec"
	"fs-rpc/logging"
	"fs-rpc/message"
	"fs-rpc/protocol"

	"go.uber.org/zap"
)

var (
	ErrCommandTimedOut = errors.New("transport: command timed out")
	ErrClosed          = errors.New("transport: closed")
)

// State is the position of a ClientTransport in its connection state machine.
type State int32

const (
	Disconnected State = iota
	Connected
	AwaitingResponse
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case AwaitingResponse:
		return "AwaitingResponse"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// DialFunc opens the underlying connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Config struct {
	Addr           string
	Codec          codec.Codec   // Defaults to msgpack
	AttemptTimeout time.Duration // Deadline for one dial, or one write+read exchange
	OverallTimeout time.Duration // Deadline across all attempts of one command
	BackoffBase    time.Duration // First pause after a failed attempt, doubled each time
	BackoffMax     time.Duration
	Dial           DialFunc
	Logger         *zap.Logger
}

const (
	DefaultAttemptTimeout = 2 * time.Second
	DefaultOverallTimeout = 30 * time.Second
	DefaultBackoffBase    = 50 * time.Millisecond
	DefaultBackoffMax     = time.Second
)

func (c *Config) applyDefaults() {
	if c.Codec == nil {
		c.Codec = codec.GetCodec(codec.CodecTypeMsgpack)
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = DefaultOverallTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Dial == nil {
		c.Dial = (&net.Dialer{}).DialContext
	}
	c.Logger = logging.OrNop(c.Logger)
}

// ClientTransport owns at most one connection at a time.
//
// It is not re-entrant: concurrent Send calls are serialized by the sending mutex,
// so callers that need parallelism should use a Pool of transports instead.
type ClientTransport struct {
	cfg     Config
	state   atomic.Int32
	sending sync.Mutex // Held for the whole of Send, one command in flight per connection

	mu     sync.Mutex // Guards conn and closed; Close may run from another goroutine
	conn   net.Conn
	closed bool
}

// NewClientTransport creates a disconnected transport. The connection is opened by
// Connect, or lazily by the first Send.
func NewClientTransport(cfg Config) *ClientTransport {
	cfg.applyDefaults()
	return &ClientTransport{cfg: cfg}
}

func (t *ClientTransport) State() State {
	return State(t.state.Load())
}

func (t *ClientTransport) Addr() string {
	return t.cfg.Addr
}

func (t *ClientTransport) setState(s State) {
	prev := State(t.state.Swap(int32(s)))
	if prev != s {
		t.cfg.Logger.Debug("transport: state change",
			zap.String("addr", t.cfg.Addr),
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
}

// Connect opens the connection if it is not already open.
func (t *ClientTransport) Connect(ctx context.Context) error {
	t.sending.Lock()
	defer t.sending.Unlock()

	_, err := t.ensureConn(ctx, time.Now().Add(t.cfg.AttemptTimeout))
	return err
}

// Close releases the connection. Any Send in progress fails, and later Sends return ErrClosed.
func (t *ClientTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.setState(Disconnected)
	return err
}

// Send builds a Command with a fresh id and delivers it. See SendCommand.
func (t *ClientTransport) Send(ctx context.Context, method string, args []message.Value, kwargs map[string]message.Value) (*message.Outcome, error) {
	return t.SendCommand(ctx, message.NewCommand(method, args, kwargs))
}

// SendCommand delivers cmd and returns the server's Outcome.
//
// A returned Outcome may itself carry a RemoteError; that is the server's answer, not a
// transport failure. The error return is reserved for ErrCommandTimedOut (overall or
// context deadline spent), ErrClosed, context cancellation, and commands that cannot be
// encoded. A context deadline error matches both ErrCommandTimedOut and
// context.DeadlineExceeded.
func (t *ClientTransport) SendCommand(ctx context.Context, cmd *message.Command) (*message.Outcome, error) {
	payload, err := codec.EncodeCommand(t.cfg.Codec, cmd)
	if err != nil {
		return nil, err
	}
	// Framed once: every retry resends these exact bytes
	frame := protocol.Frame(payload)

	t.sending.Lock()
	defer t.sending.Unlock()

	deadline := time.Now().Add(t.cfg.OverallTimeout)
	var cause error // set when the context deadline is the binding one
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, cause = d, context.DeadlineExceeded
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if t.isClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, t.timedOut(cmd, attempt-1, lastErr, err)
			}
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, t.timedOut(cmd, attempt-1, lastErr, cause)
		}

		out, err := t.roundTrip(ctx, frame, time.Now().Add(min(t.cfg.AttemptTimeout, remaining)))
		if err == nil {
			return out, nil
		}
		lastErr = err
		if t.isClosed() {
			return nil, ErrClosed
		}

		t.cfg.Logger.Info("transport: attempt failed, reconnecting",
			zap.String("addr", t.cfg.Addr),
			zap.String("method", cmd.Method),
			zap.Stringer("id", cmd.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		t.dropConn()
		t.backoff(ctx, attempt, deadline)
	}
}

// timedOut reports a spent deadline. cause is the context error when the caller's
// deadline was the one that ran out.
func (t *ClientTransport) timedOut(cmd *message.Command, attempts int, lastErr, cause error) error {
	t.cfg.Logger.Warn("transport: giving up on command",
		zap.String("method", cmd.Method),
		zap.Stringer("id", cmd.ID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	if cause != nil {
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrCommandTimedOut, cmd.Method, attempts, cause)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrCommandTimedOut, cmd.Method, attempts, lastErr)
}

// roundTrip performs one attempt: dial if needed, write the frame, read one frame back.
func (t *ClientTransport) roundTrip(ctx context.Context, frame []byte, deadline time.Time) (*message.Outcome, error) {
	conn, err := t.ensureConn(ctx, deadline)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	t.setState(AwaitingResponse)
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	payload, err := protocol.Decode(conn)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	out, err := codec.DecodeOutcome(t.cfg.Codec, payload)
	if err != nil {
		// The stream is readable but the content is not ours: treat as desync
		return nil, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear deadline: %w", err)
	}
	t.setState(Connected)
	return out, nil
}

func (t *ClientTransport) ensureConn(ctx context.Context, deadline time.Time) (net.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	conn, err := t.cfg.Dial(dialCtx, "tcp", t.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.cfg.Addr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return nil, ErrClosed
	}
	t.conn = conn
	t.setState(Connected)
	return conn, nil
}

// dropConn discards the current connection together with any half-sent or half-read frame.
func (t *ClientTransport) dropConn() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.setState(Disconnected)
}

func (t *ClientTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// backoff pauses before the next attempt: exponential from BackoffBase, capped by
// BackoffMax and by the time left before deadline.
func (t *ClientTransport) backoff(ctx context.Context, attempt int, deadline time.Time) {
	delay := t.cfg.BackoffBase << min(attempt-1, 16)
	if delay > t.cfg.BackoffMax || delay <= 0 {
		delay = t.cfg.BackoffMax
	}
	if remaining := time.Until(deadline); delay > remaining {
		delay = remaining
	}
	if delay <= 0 {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
