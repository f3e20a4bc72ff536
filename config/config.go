// Package config holds the settings of the fs-rpc server and client binaries.
// Values start from Default*Config and are overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"fs-rpc/codec"
	"fs-rpc/logging"
)

var ErrInvalidConfig = errors.New("config: invalid")

type ServerConfig struct {
	IP            string        // Listen IP, e.g. "127.0.0.1"
	Port          int           // Listen port
	AdvertiseAddr string        // Address registered in etcd; defaults to the listen address
	Codec         string        // "msgpack" or "json"; must match the clients
	IdleTimeout   time.Duration // Close connections idle this long; 0 keeps them open
	ShutdownWait  time.Duration // Max wait for in-flight commands during shutdown

	OpTimeout time.Duration // Per-command execution limit; 0 disables
	RateLimit float64       // Commands per second across the server; 0 disables
	RateBurst int

	DedupTTL time.Duration // How long command ids are remembered; 0 disables de-duplication

	EtcdEndpoints []string // Empty disables registry registration
	ServiceName   string
	RegistryTTL   int64 // Lease TTL in seconds

	MetricsAddr string // Empty disables the /metrics listener

	Log logging.Options
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		IP:           "127.0.0.1",
		Port:         1234,
		Codec:        "msgpack",
		ShutdownWait: 5 * time.Second,
		OpTimeout:    30 * time.Second,
		RateBurst:    64,
		DedupTTL:     5 * time.Minute,
		ServiceName:  "FileService",
		RegistryTTL:  10,
		Log:          logging.DefaultOptions(),
	}
}

// ListenAddr joins IP and Port.
func (c ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

func (c ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return fmt.Errorf("%w: rate %v with burst %d", ErrInvalidConfig, c.RateLimit, c.RateBurst)
	}
	if c.IdleTimeout < 0 || c.OpTimeout < 0 || c.DedupTTL < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if len(c.EtcdEndpoints) > 0 && c.ServiceName == "" {
		return fmt.Errorf("%w: service name required with etcd", ErrInvalidConfig)
	}
	return nil
}

type ClientConfig struct {
	Addr           string        // Server address; ignored when EtcdEndpoints is set
	Codec          string        // Must match the server
	AttemptTimeout time.Duration // Deadline on a single connect/write/read
	OverallTimeout time.Duration // Deadline across all retries of one command
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	EtcdEndpoints []string
	ServiceName   string
	Balancer      string // "roundrobin", "random" or "hash"

	Log logging.Options
}

func DefaultClientConfig() ClientConfig {
	log := logging.DefaultOptions()
	log.Level = "warn"
	return ClientConfig{
		Addr:           "127.0.0.1:1234",
		Codec:          "msgpack",
		AttemptTimeout: 2 * time.Second,
		OverallTimeout: 30 * time.Second,
		BackoffBase:    50 * time.Millisecond,
		BackoffMax:     time.Second,
		ServiceName:    "FileService",
		Balancer:       "roundrobin",
		Log:            log,
	}
}

func (c ClientConfig) Validate() error {
	if c.Addr == "" && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("%w: address or etcd endpoints required", ErrInvalidConfig)
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.AttemptTimeout <= 0 || c.OverallTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.AttemptTimeout > c.OverallTimeout {
		return fmt.Errorf("%w: attempt timeout %s exceeds overall timeout %s", ErrInvalidConfig, c.AttemptTimeout, c.OverallTimeout)
	}
	switch c.Balancer {
	case "", "roundrobin", "random", "hash":
	default:
		return fmt.Errorf("%w: unknown balancer %q", ErrInvalidConfig, c.Balancer)
	}
	return nil
}
