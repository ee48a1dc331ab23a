package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	"github.com/kjstillabower/weather-dashboard/internal/prefs"
)

func TestOpenStore(t *testing.T) {
	mr := miniredis.RunT(t)
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
		check   func(t *testing.T, s cache.Store)
	}{
		{
			name: "in memory",
			cfg:  config.Config{CacheBackend: "in_memory"},
			check: func(t *testing.T, s cache.Store) {
				if _, ok := s.(*cache.InMemoryStore); !ok {
					t.Errorf("store = %T, want *cache.InMemoryStore", s)
				}
			},
		},
		{
			name: "redis",
			cfg:  config.Config{CacheBackend: "redis", RedisAddr: mr.Addr()},
			check: func(t *testing.T, s cache.Store) {
				if _, ok := s.(*cache.RedisStore); !ok {
					t.Errorf("store = %T, want *cache.RedisStore", s)
				}
			},
		},
		{
			name:    "redis unreachable",
			cfg:     config.Config{CacheBackend: "redis", RedisAddr: "127.0.0.1:1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := openStore(context.Background(), &tt.cfg, zaptest.NewLogger(t))
			if tt.wantErr {
				if err == nil {
					t.Fatal("openStore() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer s.Close()
			if err := s.Ping(context.Background()); err != nil {
				t.Errorf("Ping() = %v", err)
			}
			tt.check(t, s)
		})
	}
}

// TestOpenPreferences_SQLitePersists verifies that preferences written through one
// storage are read back after reopening the file.
func TestOpenPreferences_SQLitePersists(t *testing.T) {
	cfg := &config.Config{PreferencesBackend: "sqlite", PreferencesPath: filepath.Join(t.TempDir(), "data", "prefs.db")}

	storage, closeFn, err := openPreferences(cfg)
	if err != nil {
		t.Fatalf("openPreferences() error = %v", err)
	}
	if err := storage.Set(prefs.KeyTheme, "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	storage, closeFn, err = openPreferences(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closeFn()
	if v, ok, err := storage.Get(prefs.KeyTheme); err != nil || !ok || v != "dark" {
		t.Errorf("Get(theme) = %q, %v, %v; want dark", v, ok, err)
	}
}

func TestOpenPreferences_Memory(t *testing.T) {
	storage, closeFn, err := openPreferences(&config.Config{PreferencesBackend: "memory"})
	if err != nil {
		t.Fatalf("openPreferences() error = %v", err)
	}
	if _, ok := storage.(*prefs.MemoryStorage); !ok {
		t.Errorf("storage = %T, want *prefs.MemoryStorage", storage)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close = %v", err)
	}
}
