package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "SHORTCUTS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "shortcuts.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultCookieName      = "app_session"
	defaultSessionIssuer   = "tauth"
	defaultCacheBackend    = CacheBackendSQLite
	defaultMaxValueBytes   = 100 * 1024
	defaultChunkSize       = 90000
	defaultTableTTL        = 6 * time.Hour
	defaultSnapshotTTL     = 5 * time.Minute
	defaultSnapshotLock    = 5 * time.Second
	defaultMaxPageLimit    = 2000
	defaultSnapshotRate    = 30
	defaultMutationLock    = 30 * time.Second
	defaultAllowedOrigins  = "*"
	allowedOriginSeparator = ","
)

// Cache backends accepted by cache.backend.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendMemory = "memory"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	LogFormat             string
	SessionSigningKey     string
	SessionCookieName     string
	SessionIssuer         string
	CacheBackend          string
	CacheMaxValueBytes    int
	CacheChunkSize        int
	TableCacheTTL         time.Duration
	SnapshotTTL           time.Duration
	SnapshotLockTimeout   time.Duration
	SnapshotMaxPageLimit  int
	SnapshotRatePerMinute int
	MutationLockTimeout   time.Duration
	AllowedOrigins        []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("cache.backend", defaultCacheBackend)
	configViper.SetDefault("cache.max_value_bytes", defaultMaxValueBytes)
	configViper.SetDefault("cache.chunk_size", defaultChunkSize)
	configViper.SetDefault("cache.table_ttl", defaultTableTTL)
	configViper.SetDefault("snapshot.ttl", defaultSnapshotTTL)
	configViper.SetDefault("snapshot.lock_timeout", defaultSnapshotLock)
	configViper.SetDefault("snapshot.max_page_limit", defaultMaxPageLimit)
	configViper.SetDefault("snapshot.rate_per_minute", defaultSnapshotRate)
	configViper.SetDefault("mutation.lock_timeout", defaultMutationLock)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		LogFormat:             strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		SessionSigningKey:     configViper.GetString("session.signing_secret"),
		SessionCookieName:     configViper.GetString("session.cookie_name"),
		SessionIssuer:         configViper.GetString("session.issuer"),
		CacheBackend:          strings.ToLower(strings.TrimSpace(configViper.GetString("cache.backend"))),
		CacheMaxValueBytes:    configViper.GetInt("cache.max_value_bytes"),
		CacheChunkSize:        configViper.GetInt("cache.chunk_size"),
		TableCacheTTL:         configViper.GetDuration("cache.table_ttl"),
		SnapshotTTL:           configViper.GetDuration("snapshot.ttl"),
		SnapshotLockTimeout:   configViper.GetDuration("snapshot.lock_timeout"),
		SnapshotMaxPageLimit:  configViper.GetInt("snapshot.max_page_limit"),
		SnapshotRatePerMinute: configViper.GetInt("snapshot.rate_per_minute"),
		MutationLockTimeout:   configViper.GetDuration("mutation.lock_timeout"),
		AllowedOrigins:        splitOrigins(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	if c.CacheBackend != CacheBackendSQLite && c.CacheBackend != CacheBackendMemory {
		return fmt.Errorf("cache.backend must be %s or %s, got %q", CacheBackendSQLite, CacheBackendMemory, c.CacheBackend)
	}
	if c.CacheMaxValueBytes <= 0 {
		return fmt.Errorf("cache.max_value_bytes must be positive")
	}
	if c.CacheChunkSize <= 0 || c.CacheChunkSize >= c.CacheMaxValueBytes {
		return fmt.Errorf("cache.chunk_size must be positive and below cache.max_value_bytes (%d)", c.CacheMaxValueBytes)
	}
	if c.TableCacheTTL <= 0 || c.SnapshotTTL <= 0 {
		return fmt.Errorf("cache.table_ttl and snapshot.ttl must be positive")
	}
	if c.SnapshotMaxPageLimit <= 0 {
		return fmt.Errorf("snapshot.max_page_limit must be positive")
	}
	if c.SnapshotRatePerMinute <= 0 {
		return fmt.Errorf("snapshot.rate_per_minute must be positive")
	}
	if c.MutationLockTimeout <= 0 || c.SnapshotLockTimeout <= 0 {
		return fmt.Errorf("snapshot.lock_timeout and mutation.lock_timeout must be positive")
	}
	if c.SnapshotLockTimeout >= c.MutationLockTimeout {
		return fmt.Errorf("snapshot.lock_timeout (%s) must be shorter than mutation.lock_timeout (%s)", c.SnapshotLockTimeout, c.MutationLockTimeout)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, allowedOriginSeparator) {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
