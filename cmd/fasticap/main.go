// Command fasticap runs ICAP server with the echo and nomod services.
//
// The server is configured via FASTICAP_* environment variables,
// optionally loaded from .env file. Prometheus metrics are served
// at /metrics on FASTICAP_METRICS_ADDR together with runtime profiles
// at /debug/pprof/ if FASTICAP_ENABLE_PPROF is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/tcplisten"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/valyala/fasticap"
	"github.com/valyala/fasticap/icapmetrics"
)

func main() {
	// .env file is optional.
	_ = godotenv.Load()

	cfg, err := loadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.logLevel(),
	})
	logger := slog.New(logHandler)

	if err := run(&cfg, logHandler, logger); err != nil {
		logger.Error(fmt.Sprintf("fasticap terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("fasticap stopped")
}

func run(cfg *config, logHandler slog.Handler, logger *slog.Logger) error {
	mux, err := newServiceMux(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := icapmetrics.New(reg, "fasticap")

	s := &fasticap.Server{
		Handler:            mux.Handle,
		Name:               cfg.ServerName,
		WriteTimeout:       cfg.WriteTimeout,
		MaxRequestLineSize: cfg.MaxRequestLineSize,
		MaxConnsPerIP:      cfg.MaxConnsPerIP,
		DisableKeepalive:   cfg.DisableKeepalive,
		Logger:             slog.NewLogLogger(logHandler, slog.LevelInfo),
		Trace:              m.Trace(),
	}

	ln, err := newListener(cfg)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: newMetricsMux(reg, cfg.EnablePprof),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("ICAP server started",
			slog.String("address", ln.Addr().String()),
			slog.Any("services", mux.Paths()))
		return s.Serve(ln)
	})
	g.Go(func() error {
		logger.Info("metrics server started", slog.String("address", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("cannot close ICAP listener", slog.String("error", err.Error()))
		}
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

// newMetricsMux serves /metrics and, if enabled, runtime profiles
// at /debug/pprof/.
func newMetricsMux(reg *prometheus.Registry, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// newListener returns TCP listener with the connection limit advertised
// in Max-Connections and the per-read idle timeout applied.
func newListener(cfg *config) (net.Listener, error) {
	tcpCfg := &tcplisten.Config{
		ReusePort: cfg.ReusePort,
	}
	ln, err := tcpCfg.NewListener("tcp4", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %q: %w", cfg.Addr, err)
	}
	return &fasticap.IdleTimeoutListener{
		Listener:    netutil.LimitListener(ln, cfg.MaxConnections),
		ReadTimeout: cfg.IdleTimeout,
	}, nil
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
