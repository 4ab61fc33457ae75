package config

import (
	"errors"
	"testing"
	"time"
)

func TestGetConfigDefaults(t *testing.T) {
	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}

	if cfg.Dispatch.ChunkSize != 10 {
		t.Fatalf("expected default chunk size 10, got %d", cfg.Dispatch.ChunkSize)
	}
	if cfg.Network.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s request timeout, got %s", cfg.Network.RequestTimeout)
	}
	if len(cfg.Network.ListenAddrs) != 2 {
		t.Fatalf("expected two listen addrs, got %v", cfg.Network.ListenAddrs)
	}
	if cfg.Store.Path != "" {
		t.Fatalf("expected in-memory store by default, got %q", cfg.Store.Path)
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("FARM_CHUNK_SIZE", "3")
	t.Setenv("FARM_STORE_PATH", "/var/lib/farm")
	t.Setenv("FARM_MDNS", "false")

	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Dispatch.ChunkSize != 3 || cfg.Store.Path != "/var/lib/farm" || cfg.Network.MDNS {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestGetConfigRejectsChunkSize(t *testing.T) {
	t.Setenv("FARM_CHUNK_SIZE", "0")

	if _, err := GetConfig(); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
}
