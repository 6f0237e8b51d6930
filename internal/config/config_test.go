package config

import (
	"testing"
	"time"
)

func TestParseArgsDefaults(t *testing.T) {
	t.Setenv("TASKBOARD_STATE_DIR", t.TempDir())
	cfg, err := ParseArgs(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != defaultAddr || cfg.Mode != "http" || cfg.DefaultScope != "month" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Passes.Retention != defaultPassKeep || cfg.Notification.Redis.DedupeTTL != defaultDedupeTTL {
		t.Fatalf("unexpected retention/ttl: %+v", cfg)
	}
	if cfg.Auth.JWKSURL != defaultJWKSURL {
		t.Fatalf("unexpected jwks url %q", cfg.Auth.JWKSURL)
	}
}

func TestParseArgsFlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKBOARD_STATE_DIR", dir)
	t.Setenv("TASKBOARD_ADDR", "127.0.0.1:1")
	t.Setenv("TASKBOARD_MODE", "mcp")
	t.Setenv("TASKBOARD_USE_UTC", "true")
	t.Setenv("TASKBOARD_PASS_RETENTION", "7")
	t.Setenv("TASKBOARD_NOTIFY_DEDUPE_TTL", "30m")

	cfg, err := ParseArgs([]string{"-addr", "127.0.0.1:2", "-mode", "both", "-use-utc=false"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:2" || cfg.Mode != "both" {
		t.Fatalf("flags should win: %+v", cfg)
	}
	if cfg.UseUTC || cfg.Location() != time.Local {
		t.Fatalf("explicit -use-utc=false should override env")
	}
	if cfg.Passes.Retention != 7 || cfg.Notification.Redis.DedupeTTL != 30*time.Minute || cfg.StateDir != dir {
		t.Fatalf("env values not applied: %+v", cfg)
	}
}

func TestParseArgsValidation(t *testing.T) {
	t.Setenv("TASKBOARD_STATE_DIR", t.TempDir())
	if _, err := ParseArgs([]string{"-mode", "grpc"}); err == nil {
		t.Fatalf("expected invalid mode error")
	}

	t.Setenv("TASKBOARD_DEFAULT_SCOPE", "year")
	if _, err := ParseArgs(nil); err == nil {
		t.Fatalf("expected invalid scope error")
	}
	t.Setenv("TASKBOARD_DEFAULT_SCOPE", "all")

	t.Setenv("TASKBOARD_BARK_ENABLED", "1")
	if _, err := ParseArgs(nil); err == nil {
		t.Fatalf("expected missing bark url error")
	}
}
