package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "FASTICAP_"

type config struct {
	Addr        string `env:"ADDR"          envDefault:":1344"`
	MetricsAddr string `env:"METRICS_ADDR"  envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL"     envDefault:"info"`
	ServerName  string `env:"SERVER_NAME"   envDefault:"fasticap"`
	EnablePprof bool   `env:"ENABLE_PPROF"  envDefault:"false"`

	// IdleTimeout limits every single read, not the whole request.
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT"      envDefault:"300s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"     envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"30s"`

	MaxConnections     int  `env:"MAX_CONNECTIONS"        envDefault:"1000"`
	MaxConnsPerIP      int  `env:"MAX_CONNS_PER_IP"       envDefault:"0"`
	MaxRequestLineSize int  `env:"MAX_REQUEST_LINE_SIZE"  envDefault:"65536"`
	Preview            int  `env:"PREVIEW"                envDefault:"1024"`
	ReusePort          bool `env:"REUSE_PORT"             envDefault:"false"`
	DisableKeepalive   bool `env:"DISABLE_KEEPALIVE"      envDefault:"false"`
}

// loadConfig reads FASTICAP_* variables from environ.
// The process environment is used if environ is nil.
func loadConfig(environ map[string]string) (config, error) {
	var cfg config
	opts := env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, err
	}
	if cfg.MaxConnections <= 0 {
		return cfg, fmt.Errorf("%sMAX_CONNECTIONS must be positive; got %d", envPrefix, cfg.MaxConnections)
	}
	if cfg.Preview < 0 {
		return cfg, fmt.Errorf("%sPREVIEW cannot be negative; got %d", envPrefix, cfg.Preview)
	}
	return cfg, nil
}

func (cfg *config) logLevel() slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
