// Pool hands out ClientTransports exclusively: one caller, one connection, one command
// at a time. It is how several goroutines share a server without multiplexing a socket.
//
// Pool design: uses a buffered channel as a natural FIFO queue.
// Buffered channels are concurrency-safe, and blocking on empty is built-in.
package transport

import (
	"context"
	"fmt"
	"sync"

	"fs-rpc/message"
)

// Pool manages up to maxConns transports to a single address.
type Pool struct {
	mu       sync.Mutex
	idle     chan *ClientTransport // Buffered channel as pool: FIFO and goroutine-safe
	cfg      Config                // Template for new transports
	maxConns int                   // Maximum number of transports
	curConns int                   // Currently created transports (may be < maxConns)
	closed   bool
}

// NewPool creates a pool with the given max size.
// Transports are created lazily: the pool starts empty and grows on demand.
func NewPool(cfg Config, maxConns int) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	cfg.applyDefaults()
	return &Pool{
		idle:     make(chan *ClientTransport, maxConns),
		cfg:      cfg,
		maxConns: maxConns,
	}
}

// Get retrieves a transport from the pool.
// Strategy:
//  1. Take an idle transport if there is one
//  2. If none is idle but the pool is under its limit, create a new one
//  3. Otherwise block until one is returned or ctx is done
func (p *Pool) Get(ctx context.Context) (*ClientTransport, error) {
	select {
	case t, ok := <-p.idle:
		if !ok {
			return nil, ErrClosed
		}
		return t, nil
	default:
	}

	if t, err := p.createNew(); err == nil || err == ErrClosed {
		return t, err
	}

	select {
	case t, ok := <-p.idle:
		if !ok {
			return nil, ErrClosed
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a transport to the pool. Transports that were closed are discarded.
func (p *Pool) Put(t *ClientTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || t.isClosed() {
		t.Close()
		p.curConns--
		return
	}
	p.idle <- t
}

// Connect opens one pooled connection ahead of the first command.
func (p *Pool) Connect(ctx context.Context) error {
	t, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(t)
	return t.Connect(ctx)
}

// Send borrows a transport for one command.
func (p *Pool) Send(ctx context.Context, method string, args []message.Value, kwargs map[string]message.Value) (*message.Outcome, error) {
	t, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Put(t)
	return t.Send(ctx, method, args, kwargs)
}

// Close shuts down the pool and closes all idle transports.
// Transports still borrowed are closed when they are Put back.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)
	for t := range p.idle {
		t.Close()
		p.curConns--
	}
	return nil
}

func (p *Pool) createNew() (*ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("transport: pool exhausted")
	}
	p.curConns++
	return NewClientTransport(p.cfg), nil
}
