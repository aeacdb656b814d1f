package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
	if !cfg.Store.AutoProvision {
		t.Fatalf("expected auto provisioning to default on")
	}
	if cfg.Relay.SendBuffer != 64 {
		t.Fatalf("expected send buffer 64, got %d", cfg.Relay.SendBuffer)
	}
	if cfg.Relay.PingInterval != 54*time.Second {
		t.Fatalf("expected 54s ping interval, got %s", cfg.Relay.PingInterval)
	}
	if cfg.Relay.PongWait != 0 {
		t.Fatalf("expected no pong deadline, got %s", cfg.Relay.PongWait)
	}
	if cfg.Relay.LiveTimestamps {
		t.Fatalf("expected live timestamps disabled by default")
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("expected redis disabled by default")
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("SEED_USERS", " alice, bob ,,carol")
	t.Setenv("WS_SEND_BUFFER", "8")
	t.Setenv("WS_PONG_WAIT", "60s")
	t.Setenv("RELAY_LIVE_TIMESTAMPS", "true")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected explicit host:port, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != DriverBadger {
		t.Fatalf("expected badger driver, got %q", cfg.Store.Driver)
	}
	want := []string{"alice", "bob", "carol"}
	if len(cfg.Store.SeedUsers) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Store.SeedUsers)
	}
	for i := range want {
		if cfg.Store.SeedUsers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.Store.SeedUsers)
		}
	}
	if cfg.Relay.SendBuffer != 8 || cfg.Relay.PongWait != time.Minute || !cfg.Relay.LiveTimestamps {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("expected redis enabled")
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("AUTH_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when jwt secret is missing")
	}
}

func TestLoadHeaderModeWithoutSecret(t *testing.T) {
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("AUTH_JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.UserHeader != "X-Remote-User" {
		t.Fatalf("unexpected header %q", cfg.Auth.UserHeader)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "mysql")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DB_URL is missing")
	}
}

func TestLoadServerConfigRejectsSpaces(t *testing.T) {
	if _, err := loadServerConfig("80 80"); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}
