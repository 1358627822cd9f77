package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.CacheBackend != CacheBackendSQLite || cfg.CacheChunkSize != 90000 || cfg.CacheMaxValueBytes != 102400 {
		t.Fatalf("unexpected cache settings: %+v", cfg)
	}
	if cfg.SnapshotTTL != 5*time.Minute || cfg.SnapshotLockTimeout != 5*time.Second || cfg.MutationLockTimeout != 30*time.Second {
		t.Fatalf("unexpected lock or ttl settings: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"*"}, cfg.AllowedOrigins); diff != "" {
		t.Fatalf("unexpected origins (-want +got):\n%s", diff)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SHORTCUTS_SESSION_SIGNING_SECRET", "from-env")
	t.Setenv("SHORTCUTS_CACHE_BACKEND", "Memory")
	t.Setenv("SHORTCUTS_SNAPSHOT_TTL", "90s")
	t.Setenv("SHORTCUTS_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SessionSigningKey != "from-env" || cfg.CacheBackend != CacheBackendMemory || cfg.SnapshotTTL != 90*time.Second {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins); diff != "" {
		t.Fatalf("unexpected origins (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name     string
		override map[string]any
		contains string
	}{
		{name: "missing secret", override: map[string]any{"session.signing_secret": " "}, contains: "session.signing_secret"},
		{name: "chunk above ceiling", override: map[string]any{"cache.chunk_size": 102400}, contains: "cache.chunk_size"},
		{name: "unknown backend", override: map[string]any{"cache.backend": "redis"}, contains: "cache.backend"},
		{name: "snapshot wait not shorter", override: map[string]any{"snapshot.lock_timeout": "30s"}, contains: "snapshot.lock_timeout"},
		{name: "non positive ttl", override: map[string]any{"snapshot.ttl": "0s"}, contains: "snapshot.ttl"},
		{name: "unknown log format", override: map[string]any{"log.format": "xml"}, contains: "log.format"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("session.signing_secret", "secret")
			for key, value := range testCase.override {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.contains, err)
			}
		})
	}
}
