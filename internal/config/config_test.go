package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Timeout() != 10*time.Second {
		t.Errorf("timeout = %s, want 10s", cfg.API.Timeout())
	}
	if cfg.Breaker.LocalOpenThreshold != 2 || cfg.Breaker.LocalCooldownThreshold != 3 {
		t.Errorf("local breaker = %+v", cfg.Breaker)
	}
	if cfg.Breaker.GlobalOpenThreshold != 3 || cfg.Breaker.GlobalCooldownThreshold != 5 || cfg.Breaker.CooldownSec != 30 {
		t.Errorf("global breaker = %+v", cfg.Breaker)
	}
	if cfg.Push.Scope != "/" || cfg.Push.ServiceWorkerURL != "/sw.js" {
		t.Errorf("push = %+v", cfg.Push)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("storage backend = %q", cfg.Storage.Backend)
	}
	if len(cfg.CORS.AllowedHeaders) != 3 {
		t.Errorf("cors headers = %v", cfg.CORS.AllowedHeaders)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEADWIRE_API_BASE_URL", "https://api.example.com")
	t.Setenv("LEADWIRE_BREAKER_COOLDOWN_SEC", "45")
	t.Setenv("LEADWIRE_STORAGE_BACKEND", "memory")
	t.Setenv("LEADWIRE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Breaker.CooldownSec != 45 {
		t.Errorf("cooldown = %d", cfg.Breaker.CooldownSec)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[0] != want[0] || cfg.CORS.AllowedOrigins[1] != want[1] {
		t.Errorf("origins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "push:\n  app_name: Acme CRM\nserver:\n  port: 9090\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Push.AppName != "Acme CRM" || cfg.Server.Port != 9090 {
		t.Errorf("file values not applied: app=%q port=%d", cfg.Push.AppName, cfg.Server.Port)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEADWIRE_STORAGE_BACKEND", "cookies")
	if _, err := Load(); err == nil {
		t.Error("expected unknown storage backend to be rejected")
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
