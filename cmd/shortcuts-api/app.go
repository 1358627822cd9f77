package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/auth"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/config"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/database"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/logging"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/snapshot"
)

// application holds the collaborators shared by the server and the maintenance commands.
type application struct {
	config    config.AppConfig
	logger    *zap.Logger
	sqlDB     *sql.DB
	metrics   *metrics.Recorder
	service   *shortcuts.Service
	snapshots *snapshot.Manager
	pages     *snapshot.Reader
	sessions  *auth.SessionValidator
}

func newApplication(configViper *viper.Viper, notifier shortcuts.ChangeNotifier) (*application, error) {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	var cache kvcache.Store
	switch appConfig.CacheBackend {
	case config.CacheBackendMemory:
		cache = kvcache.NewMemoryStore(kvcache.MemoryStoreConfig{MaxValueBytes: appConfig.CacheMaxValueBytes})
	default:
		cache, err = kvcache.NewSQLStore(kvcache.SQLStoreConfig{Database: db, MaxValueBytes: appConfig.CacheMaxValueBytes})
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("cache store: %w", err)
		}
	}

	recorder := metrics.NewRecorder()
	service, err := shortcuts.NewService(shortcuts.ServiceConfig{
		Database:      db,
		Cache:         cache,
		Logger:        logger,
		Metrics:       recorder,
		Notifier:      notifier,
		LockTimeout:   appConfig.MutationLockTimeout,
		TableCacheTTL: appConfig.TableCacheTTL,
		ChunkSize:     appConfig.CacheChunkSize,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	manager, err := snapshot.NewManager(snapshot.ManagerConfig{
		Rows:        service.Shortcuts(),
		Cache:       cache,
		Logger:      logger,
		Metrics:     recorder,
		TTL:         appConfig.SnapshotTTL,
		LockTimeout: appConfig.SnapshotLockTimeout,
		ChunkSize:   appConfig.CacheChunkSize,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	reader, err := snapshot.NewReader(snapshot.ReaderConfig{
		Cache:        cache,
		Logger:       logger,
		Metrics:      recorder,
		MaxPageLimit: appConfig.SnapshotMaxPageLimit,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &application{
		config:    appConfig,
		logger:    logger,
		sqlDB:     sqlDB,
		metrics:   recorder,
		service:   service,
		snapshots: manager,
		pages:     reader,
		sessions:  sessions,
	}, nil
}

func (a *application) Close() {
	if err := a.sqlDB.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
