// Package client is the typed façade over the fs-rpc transport.
//
// Each method builds exactly one Command and hands it to the transport, which
// reconnects and resends on its own. The result comes back either unwrapped
// (Client methods) or as the raw Outcome (Raw methods).
package client

import (
	"context"
	"fmt"
	"os"

	"fs-rpc/codec"
	"fs-rpc/config"
	"fs-rpc/loadbalance"
	"fs-rpc/logging"
	"fs-rpc/message"
	"fs-rpc/registry"
	"fs-rpc/transport"

	"go.uber.org/zap"
)

// sender is what the façade needs from a transport: a single ClientTransport
// or a Pool of them.
type sender interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, method string, args []message.Value, kwargs map[string]message.Value) (*message.Outcome, error)
	Close() error
}

type Options struct {
	Transport transport.Config
	PoolSize  int // >1 lets several goroutines use the client at once
}

type Client struct {
	sender sender
	addr   string
	logger *zap.Logger
}

func New(opts Options) *Client {
	c := &Client{addr: opts.Transport.Addr, logger: logging.OrNop(opts.Transport.Logger)}
	if opts.PoolSize > 1 {
		c.sender = transport.NewPool(opts.Transport, opts.PoolSize)
	} else {
		c.sender = transport.NewClientTransport(opts.Transport)
	}
	return c
}

// NewFromConfig builds a client from cfg. With etcd endpoints configured the
// server address is discovered through the registry and cfg.Balancer.
func NewFromConfig(cfg config.ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	addr := cfg.Addr
	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			return nil, err
		}
		defer reg.Close()
		host, _ := os.Hostname()
		bal, err := loadbalance.New(cfg.Balancer, host)
		if err != nil {
			return nil, err
		}
		if addr, err = Discover(reg, cfg.ServiceName, bal); err != nil {
			return nil, err
		}
	}
	return New(Options{Transport: transport.Config{
		Addr:           addr,
		Codec:          codec.GetCodec(ct),
		AttemptTimeout: cfg.AttemptTimeout,
		OverallTimeout: cfg.OverallTimeout,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		Logger:         logger,
	}}), nil
}

// Discover asks reg for the instances of serviceName and lets bal pick one.
func Discover(reg registry.Registry, serviceName string, bal loadbalance.Balancer) (string, error) {
	instances, err := reg.Discover(serviceName)
	if err != nil {
		return "", fmt.Errorf("client: discover %s: %w", serviceName, err)
	}
	inst, err := bal.Pick(instances)
	if err != nil {
		return "", fmt.Errorf("client: discover %s: %w", serviceName, err)
	}
	return inst.Addr, nil
}

// Session opens a client, runs fn and closes the client on every exit path,
// including a panic in fn.
func Session(ctx context.Context, opts Options, fn func(c *Client) error) (err error) {
	c := New(opts)
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := c.Open(ctx); err != nil {
		return err
	}
	return fn(c)
}

// Open connects eagerly. Calling it is optional: the first command connects lazily.
func (c *Client) Open(ctx context.Context) error {
	if err := c.sender.Connect(ctx); err != nil {
		return fmt.Errorf("client: open %s: %w", c.addr, err)
	}
	c.logger.Debug("client: opened", zap.String("addr", c.addr))
	return nil
}

func (c *Client) Close() error {
	return c.sender.Close()
}

func (c *Client) Addr() string {
	return c.addr
}

// Call sends one command and returns the server's Outcome unchanged.
func (c *Client) Call(ctx context.Context, method string, args []message.Value, kwargs map[string]message.Value) (*message.Outcome, error) {
	return c.sender.Send(ctx, method, args, kwargs)
}

// invoke sends one command and unwraps the outcome; a remote failure comes back
// as *message.RemoteError.
func (c *Client) invoke(ctx context.Context, method string, args ...message.Value) (message.Value, error) {
	out, err := c.Call(ctx, method, args, nil)
	if err != nil {
		return message.Value{}, err
	}
	return out.Unwrap()
}

func (c *Client) ListDir(ctx context.Context, path string) ([]string, error) {
	v, err := c.invoke(ctx, message.MethodListDir, message.String(path))
	if err != nil {
		return nil, err
	}
	return v.AsStrings()
}

// Write writes data to path on the server. mode is "w", "a" or "x", optionally with "b" and "+".
func (c *Client) Write(ctx context.Context, path, mode string, data []byte) error {
	_, err := c.invoke(ctx, message.MethodWriteToFile, message.String(path), message.String(mode), message.Bytes(data))
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.invoke(ctx, message.MethodDeleteFile, message.String(path))
	return err
}

// GetHash returns the hex digest of the file at path, e.g. algorithm "md5" or "sha256".
func (c *Client) GetHash(ctx context.Context, path, algorithm string) (string, error) {
	v, err := c.invoke(ctx, message.MethodGetHash, message.String(path), message.String(algorithm))
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// Raw exposes the same operations returning the Outcome instead of unwrapping it.
func (c *Client) Raw() Raw {
	return Raw{c: c}
}

type Raw struct {
	c *Client
}

func (r Raw) ListDir(ctx context.Context, path string) (*message.Outcome, error) {
	return r.c.Call(ctx, message.MethodListDir, []message.Value{message.String(path)}, nil)
}

func (r Raw) Write(ctx context.Context, path, mode string, data []byte) (*message.Outcome, error) {
	return r.c.Call(ctx, message.MethodWriteToFile,
		[]message.Value{message.String(path), message.String(mode), message.Bytes(data)}, nil)
}

func (r Raw) Delete(ctx context.Context, path string) (*message.Outcome, error) {
	return r.c.Call(ctx, message.MethodDeleteFile, []message.Value{message.String(path)}, nil)
}

func (r Raw) GetHash(ctx context.Context, path, algorithm string) (*message.Outcome, error) {
	return r.c.Call(ctx, message.MethodGetHash, []message.Value{message.String(path), message.String(algorithm)}, nil)
}
