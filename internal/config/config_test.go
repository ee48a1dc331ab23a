package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_EnvFileNotFound(t *testing.T) {
	t.Setenv("ENV_NAME", "nonexistent")

	origWd, _ := os.Getwd()
	os.Chdir(findProjectRoot(t))
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

// TestLoad_ProjectDevConfig verifies that the checked-in dev config loads and carries
// the provider contract values (count=5, language=pt, 350ms debounce).
func TestLoad_ProjectDevConfig(t *testing.T) {
	t.Setenv("ENV_NAME", "dev")
	origWd, _ := os.Getwd()
	os.Chdir(findProjectRoot(t))
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchResultLimit != 5 || cfg.ProviderLanguage != "pt" {
		t.Errorf("search contract = (%d, %q), want (5, pt)", cfg.SearchResultLimit, cfg.ProviderLanguage)
	}
	if cfg.SearchDebounce != 350*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want 350ms", cfg.SearchDebounce)
	}
	if cfg.StaticPartition() != "weather-static-v1" || cfg.RuntimePartition() != "weather-runtime-v1" {
		t.Errorf("partitions = %q, %q", cfg.StaticPartition(), cfg.RuntimePartition())
	}
}

func TestLoad_DefaultsFromMinimalFile(t *testing.T) {
	chdirWithConfig(t, "server:\n  port: \"9090\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.PreferencesBackend != "sqlite" {
		t.Errorf("PreferencesBackend = %q, want sqlite", cfg.PreferencesBackend)
	}
	if len(cfg.ShellAssets) != len(DefaultShellAssets) {
		t.Errorf("ShellAssets = %v, want defaults", cfg.ShellAssets)
	}
	if len(cfg.APIHostSuffixes) != 1 || cfg.APIHostSuffixes[0] != "open-meteo.com" {
		t.Errorf("APIHostSuffixes = %v", cfg.APIHostSuffixes)
	}
	if cfg.RequestTimeout <= cfg.ProviderTimeout {
		t.Errorf("RequestTimeout %v should exceed ProviderTimeout %v", cfg.RequestTimeout, cfg.ProviderTimeout)
	}
	if !cfg.WarmFavorites {
		t.Error("WarmFavorites should default to true")
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	chdirWithConfig(t, `
search:
  debounce: "soon"
request:
  timeout: "-1s"
`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchDebounce != 350*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want default 350ms", cfg.SearchDebounce)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want default 15s", cfg.RequestTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirWithConfig(t, "cache:\n  backend: in_memory\n")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "cache.local:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SHELL_ORIGIN", "https://app.example.com/")
	t.Setenv("PREFERENCES_PATH", "/tmp/prefs.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "redis" || cfg.RedisAddr != "cache.local:6380" || cfg.RedisDB != 2 {
		t.Errorf("redis config = %q %q %d", cfg.CacheBackend, cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.ShellOrigin != "https://app.example.com" {
		t.Errorf("ShellOrigin = %q, want trailing slash trimmed", cfg.ShellOrigin)
	}
	if cfg.PreferencesPath != "/tmp/prefs.db" {
		t.Errorf("PreferencesPath = %q", cfg.PreferencesPath)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"unknown cache backend", "cache:\n  backend: disk\n", "cache.backend"},
		{"unknown preferences backend", "preferences:\n  backend: cookie\n", "preferences.backend"},
		{"zero provider timeout", "provider:\n  timeout: \"0s\"\n", "provider.timeout"},
		{"bad shell origin", "shell:\n  origin: \"ftp://x\"\n", "shell.origin"},
		{"offline pct over 100", "health:\n  offline_failure_pct: 150\n", "offline_failure_pct"},
		{"reconnect max below initial", "reconnect:\n  initial_delay: \"1m\"\n  max_delay: \"10s\"\n", "reconnect.max_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirWithConfig(t, tt.yaml)
			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error, got cfg %+v", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	chdirWithConfig(t, "server: [unclosed\n")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	chdirWithConfig(t, "server:\n  port: \"8080\"\n")
	t.Setenv("REDIS_DB", "zero")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REDIS_DB") {
		t.Errorf("Load() error = %v, want REDIS_DB error", err)
	}
}

func chdirWithConfig(t *testing.T, content string) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "CACHE_BACKEND", "MEMCACHED_ADDRS", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "SHELL_ORIGIN", "PREFERENCES_PATH"} {
		t.Setenv(k, "")
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, content)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
