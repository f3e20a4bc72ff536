// Package server implements the file RPC server: listener, per-connection loop,
// command dispatch through a middleware chain, registry registration and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → protocol.Decode frame → Dispatcher.Handle → protocol.Encode reply → next frame
//
// Frames on one connection are handled strictly one at a time, in arrival order.
// Different connections are served concurrently.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"fs-rpc/codec"
	"fs-rpc/logging"
	"fs-rpc/middleware"
	"fs-rpc/protocol"
	"fs-rpc/registry"

	"github.com/zhiqiangxu/util"
	"go.uber.org/zap"
)

var (
	ErrServerClosed    = errors.New("server: closed")
	ErrDuplicateMethod = errors.New("server: method already registered")
	ErrShutdownTimeout = errors.New("server: timeout waiting for in-flight commands")
)

type Options struct {
	Codec        codec.Codec   // payload codec, msgpack when nil
	Logger       *zap.Logger   // nop when nil
	IdleTimeout  time.Duration // close a connection after this long without a frame, 0 = never
	WriteTimeout time.Duration // bound on writing one reply, 10s when 0
	MaxFrameSize uint64        // 0 = protocol.MaxFrameSize
	ServiceName  string        // name registered in the registry
	RegistryTTL  int64         // registry lease, seconds
}

// Server accepts connections and answers each command frame with one outcome frame.
type Server struct {
	opts       Options
	methods    Methods
	dispatcher *Dispatcher
	logger     *zap.Logger

	ctx    context.Context // cancelled once shutdown gives up on in-flight commands
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	inflight sync.WaitGroup // commands being executed; guarded by mu against Wait
	wg       sync.WaitGroup // accept loop and connection goroutines
	shutdown atomic.Bool    // set once Shutdown starts; frames read afterwards are dropped

	registry      registry.Registry
	advertiseAddr string
}

func NewServer(opts Options) *Server {
	if opts.Codec == nil {
		opts.Codec = codec.GetCodec(codec.CodecTypeMsgpack)
	}
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = protocol.MaxFrameSize
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "FileService"
	}
	if opts.RegistryTTL <= 0 {
		opts.RegistryTTL = 10
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	logger := logging.OrNop(opts.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	svr := &Server{
		opts:    opts,
		methods: make(Methods),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	svr.dispatcher = NewDispatcher(opts.Codec, svr.methods, logger)
	return svr
}

// Register adds methods to the server's method table. Names must be unique.
func (svr *Server) Register(methods Methods) error {
	for name := range methods {
		if _, ok := svr.methods[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
		}
	}
	for name, fn := range methods {
		svr.methods[name] = fn
	}
	return nil
}

// RegisterFileService exposes list_dir, write_to_file, delete_file and get_hash backed by fs.
func (svr *Server) RegisterFileService(fs FileService) error {
	return svr.Register(FileServiceMethods(fs))
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.dispatcher.Use(mw)
}

// Serve listens on address and serves until Shutdown.
//
//   - advertiseAddr: the address put in the registry. It differs from the listen
//     address when listening on ":1234", which is not routable.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(ln, advertiseAddr, reg)
}

// ServeListener is Serve over an existing listener. It blocks until Shutdown
// and returns nil after a clean shutdown.
func (svr *Server) ServeListener(ln net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	svr.listener = ln
	svr.mu.Unlock()

	if advertiseAddr == "" {
		advertiseAddr = ln.Addr().String()
	}
	if reg != nil {
		err := reg.Register(svr.opts.ServiceName, registry.ServiceInstance{Addr: advertiseAddr}, svr.opts.RegistryTTL)
		if err != nil {
			ln.Close()
			return fmt.Errorf("server: register %s: %w", svr.opts.ServiceName, err)
		}
		svr.mu.Lock()
		if svr.shutdown.Load() {
			// Shutdown ran while registering and saw no registry to clean up
			svr.mu.Unlock()
			if err := reg.Deregister(svr.opts.ServiceName, advertiseAddr); err != nil {
				svr.logger.Warn("deregister", zap.Error(err))
			}
			ln.Close()
			return nil
		}
		svr.registry, svr.advertiseAddr = reg, advertiseAddr
		svr.mu.Unlock()
	}

	svr.logger.Info("serving",
		zap.String("addr", ln.Addr().String()),
		zap.String("advertise", advertiseAddr),
		zap.Stringer("codec", svr.opts.Codec.Type()),
		zap.Int("methods", len(svr.methods)))

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := ln.Accept()
		if err == nil {
			tempDelay = 0
			if !svr.track(conn) {
				conn.Close()
			}
			continue
		}

		if svr.shutdown.Load() {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		if tempDelay == 0 {
			tempDelay = 5 * time.Millisecond
		} else {
			tempDelay *= 2
		}
		if limit := time.Second; tempDelay > limit {
			tempDelay = limit
		}
		svr.logger.Error("accept", zap.Duration("retrying in", tempDelay), zap.Error(err))
		time.Sleep(tempDelay)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// track records conn and starts its goroutine. The goroutine is added to wg under mu,
// so it is always counted before Shutdown waits on wg.
func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	util.GoFunc(&svr.wg, func() {
		svr.handleConn(conn)
	})
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
	conn.Close()
}

// begin marks one command as in flight, unless shutdown has started.
func (svr *Server) begin() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.inflight.Add(1)
	return true
}

// handleConn reads and answers frames on conn until the peer goes away, a frame
// is malformed, the idle timeout fires or the server shuts down.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.untrack(conn)
	remote := conn.RemoteAddr().String()
	svr.logger.Debug("connection opened", zap.String("remote", remote))

	for {
		if svr.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(svr.opts.IdleTimeout))
		}
		payload, err := protocol.DecodeLimit(conn, svr.opts.MaxFrameSize)
		if err != nil {
			svr.logReadError(remote, err)
			return
		}
		if !svr.begin() {
			svr.logger.Debug("dropping frame during shutdown", zap.String("remote", remote))
			return
		}
		conn.SetReadDeadline(time.Time{})

		reply := svr.dispatcher.Handle(svr.ctx, payload)
		// A peer that stops reading must not pin the command as in flight
		conn.SetWriteDeadline(time.Now().Add(svr.opts.WriteTimeout))
		err = protocol.Encode(conn, reply)
		svr.inflight.Done()
		if err != nil {
			svr.logger.Info("write reply", zap.String("remote", remote), zap.Error(err))
			return
		}
	}
}

func (svr *Server) logReadError(remote string, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		svr.logger.Debug("connection closed by peer", zap.String("remote", remote))
	case errors.Is(err, protocol.ErrProtocol):
		svr.logger.Warn("protocol error, closing connection", zap.String("remote", remote), zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		svr.logger.Debug("idle connection closed", zap.String("remote", remote))
	case svr.shutdown.Load():
		svr.logger.Debug("connection closed by shutdown", zap.String("remote", remote))
	default:
		svr.logger.Info("read frame", zap.String("remote", remote), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag so frames read from now on are dropped unexecuted
//  2. Deregister from the registry so clients stop picking this server
//  3. Close the listener
//  4. Wait for in-flight commands to finish (bounded by timeout)
//  5. Close every remaining connection and wait for their goroutines
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	if svr.shutdown.Swap(true) {
		svr.mu.Unlock()
		return ErrServerClosed
	}
	ln, reg, addr := svr.listener, svr.registry, svr.advertiseAddr
	svr.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(svr.opts.ServiceName, addr); err != nil {
			svr.logger.Warn("deregister", zap.Error(err))
		}
	}
	if ln != nil {
		ln.Close()
	}

	deadline := time.Now().Add(timeout)
	var err error
	if !waitTimeout(&svr.inflight, timeout) {
		err = ErrShutdownTimeout
	}
	svr.cancel()

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()

	if !waitTimeout(&svr.wg, time.Until(deadline)) && err == nil {
		err = ErrShutdownTimeout
	}
	svr.logger.Info("shutdown complete", zap.Error(err))
	return err
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
