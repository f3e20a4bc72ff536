// Command fs-server serves list_dir, write_to_file, delete_file and get_hash
// over the fs-rpc wire protocol.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fs-rpc/config"
	"fs-rpc/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()
	cmd := &cobra.Command{
		Use:           "fs-server",
		Short:         "Serve remote file operations over TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	}
	bindServerFlags(cmd, &cfg)
	return cmd
}

func bindServerFlags(cmd *cobra.Command, cfg *config.ServerConfig) {
	f := cmd.Flags()
	f.StringVar(&cfg.IP, "ip", cfg.IP, "IP address to listen on")
	f.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	f.StringVar(&cfg.Codec, "codec", cfg.Codec, "payload codec: msgpack|json (must match clients)")
	f.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close connections idle this long (0 = never)")
	f.DurationVar(&cfg.ShutdownWait, "shutdown-wait", cfg.ShutdownWait, "max wait for in-flight commands on shutdown")
	f.DurationVar(&cfg.OpTimeout, "op-timeout", cfg.OpTimeout, "per-command execution limit (0 = none)")
	f.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "commands per second across the server (0 = unlimited)")
	f.IntVar(&cfg.RateBurst, "burst", cfg.RateBurst, "rate limiter burst")
	f.DurationVar(&cfg.DedupTTL, "dedup-ttl", cfg.DedupTTL, "remember command ids this long (0 disables de-duplication)")
	f.StringSliceVar(&cfg.EtcdEndpoints, "etcd", cfg.EtcdEndpoints, "etcd endpoints for service registration")
	f.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "address to register in etcd (default: listen address)")
	f.StringVar(&cfg.ServiceName, "service", cfg.ServiceName, "service name in the registry")
	f.Int64Var(&cfg.RegistryTTL, "registry-ttl", cfg.RegistryTTL, "registry lease TTL in seconds")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus /metrics on this address (empty = off)")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug|info|warn|error")
	f.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "console|json")
	f.StringVar(&cfg.Log.FilePath, "log-file", cfg.Log.FilePath, "write logs to this file with rotation")
}

func serve(cfg config.ServerConfig) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, logger, promReg)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	errs := make(chan error, 1)
	go func() { errs <- a.run() }()

	select {
	case err := <-errs:
		a.close()
		return err
	case sig := <-sigs:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	}
	shutdownErr := a.shutdown()
	if err := <-errs; err != nil {
		return err
	}
	return shutdownErr
}
