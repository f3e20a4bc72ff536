package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fs-rpc/codec"
	"fs-rpc/config"
	"fs-rpc/dedup"
	"fs-rpc/fileservice"
	"fs-rpc/middleware"
	"fs-rpc/registry"
	"fs-rpc/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// app is an assembled fs-server: the RPC server plus the optional pieces the
// configuration turns on.
type app struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	server  *server.Server
	reg     *registry.EtcdRegistry
	store   *dedup.BigCacheStore
	metrics *http.Server
	cancel  context.CancelFunc
}

// newApp wires the server from cfg. Middleware order, outermost first:
// logging, metrics, dedup, rate limit, timeout.
func newApp(cfg config.ServerConfig, logger *zap.Logger, promReg *prometheus.Registry) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	cdc := codec.GetCodec(ct)

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{cfg: cfg, logger: logger, cancel: cancel}
	a.server = server.NewServer(server.Options{
		Codec:       cdc,
		Logger:      logger,
		IdleTimeout: cfg.IdleTimeout,
		ServiceName: cfg.ServiceName,
		RegistryTTL: cfg.RegistryTTL,
	})
	if err := a.server.RegisterFileService(fileservice.NewLocal()); err != nil {
		a.close()
		return nil, err
	}

	a.server.Use(middleware.LoggingMiddleware(logger))
	if promReg != nil {
		m, err := middleware.NewMetrics(promReg)
		if err != nil {
			a.close()
			return nil, err
		}
		a.server.Use(m.Middleware())
	}
	if cfg.DedupTTL > 0 {
		if a.store, err = dedup.NewBigCacheStore(ctx, cfg.DedupTTL, cdc, logger); err != nil {
			a.close()
			return nil, err
		}
		a.server.Use(middleware.DedupMiddleware(a.store))
	}
	if cfg.RateLimit > 0 {
		a.server.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.OpTimeout > 0 {
		a.server.Use(middleware.TimeOutMiddleware(cfg.OpTimeout))
	}

	if len(cfg.EtcdEndpoints) > 0 {
		if a.reg, err = registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.MetricsAddr != "" && promReg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return a, nil
}

// run serves until shutdown is called. It returns nil after a clean shutdown.
func (a *app) run() error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener", zap.Error(err))
			}
		}()
	}
	var reg registry.Registry
	if a.reg != nil {
		reg = a.reg
	}
	return a.server.Serve("tcp", a.cfg.ListenAddr(), a.cfg.AdvertiseAddr, reg)
}

func (a *app) shutdown() error {
	err := a.server.Shutdown(a.cfg.ShutdownWait)
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		a.metrics.Shutdown(ctx)
		cancel()
	}
	a.close()
	return err
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.reg != nil {
		a.reg.Close()
	}
	a.cancel()
}
