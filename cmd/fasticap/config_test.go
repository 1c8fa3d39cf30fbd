package main

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(map[string]string{})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if cfg.Addr != ":1344" {
		t.Fatalf("Unexpected Addr %q. Expecting %q", cfg.Addr, ":1344")
	}
	if cfg.MaxConnections != 1000 {
		t.Fatalf("Unexpected MaxConnections %d. Expecting 1000", cfg.MaxConnections)
	}
	if cfg.IdleTimeout != 300*time.Second {
		t.Fatalf("Unexpected IdleTimeout %s. Expecting 5m0s", cfg.IdleTimeout)
	}
	if cfg.Preview != 1024 {
		t.Fatalf("Unexpected Preview %d. Expecting 1024", cfg.Preview)
	}
	if cfg.ReusePort || cfg.DisableKeepalive {
		t.Fatalf("Unexpected boolean defaults %+v", cfg)
	}
	if cfg.logLevel() != slog.LevelInfo {
		t.Fatalf("Unexpected log level %s", cfg.logLevel())
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(map[string]string{
		"FASTICAP_ADDR":              "127.0.0.1:11344",
		"FASTICAP_LOG_LEVEL":         "DEBUG",
		"FASTICAP_WRITE_TIMEOUT":     "5s",
		"FASTICAP_MAX_CONNS_PER_IP":  "8",
		"FASTICAP_PREVIEW":           "0",
		"FASTICAP_DISABLE_KEEPALIVE": "true",
		"ADDR":                       "ignored:1",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if cfg.Addr != "127.0.0.1:11344" {
		t.Fatalf("Unexpected Addr %q", cfg.Addr)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("Unexpected WriteTimeout %s", cfg.WriteTimeout)
	}
	if cfg.MaxConnsPerIP != 8 || cfg.Preview != 0 || !cfg.DisableKeepalive {
		t.Fatalf("Unexpected config %+v", cfg)
	}
	if cfg.logLevel() != slog.LevelDebug {
		t.Fatalf("Unexpected log level %s", cfg.logLevel())
	}
}

func TestLoadConfigError(t *testing.T) {
	t.Parallel()

	for _, environ := range []map[string]string{
		{"FASTICAP_IDLE_TIMEOUT": "forever"},
		{"FASTICAP_MAX_CONNECTIONS": "0"},
		{"FASTICAP_PREVIEW": "-1"},
		{"FASTICAP_REUSE_PORT": "maybe"},
	} {
		if _, err := loadConfig(environ); err == nil {
			t.Fatalf("Expecting error for %v", environ)
		}
	}
}
