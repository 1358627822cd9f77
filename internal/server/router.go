package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/auth"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/snapshot"
)

const (
	userEmailContextKey      = "shortcuts_user_email"
	defaultHeartbeatInterval = 25 * time.Second
	defaultSnapshotRate      = 30
)

var (
	errMissingShortcutsService = errors.New("shortcuts service dependency required")
	errMissingSnapshotManager  = errors.New("snapshot manager dependency required")
	errMissingPageReader       = errors.New("page reader dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	ShortcutsService      *shortcuts.Service
	SnapshotManager       *snapshot.Manager
	PageReader            *snapshot.Reader
	SessionValidator      SessionValidator
	Realtime              *RealtimeDispatcher
	Metrics               *metrics.Recorder
	Logger                *zap.Logger
	AllowedOrigins        []string
	SnapshotRatePerMinute int
	HeartbeatInterval     time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ShortcutsService == nil {
		return nil, errMissingShortcutsService
	}
	if deps.SnapshotManager == nil {
		return nil, errMissingSnapshotManager
	}
	if deps.PageReader == nil {
		return nil, errMissingPageReader
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	ratePerMinute := deps.SnapshotRatePerMinute
	if ratePerMinute <= 0 {
		ratePerMinute = defaultSnapshotRate
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		shortcuts:         deps.ShortcutsService,
		snapshots:         deps.SnapshotManager,
		pages:             deps.PageReader,
		sessions:          deps.SessionValidator,
		realtime:          realtime,
		snapshotLimiter:   newKeyedLimiter(ratePerMinute, time.Minute),
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/snapshots", handler.handleBeginSnapshot)
	protected.GET("/snapshots/:token/page", handler.handleFetchPage)
	protected.GET("/shortcuts", handler.handleListShortcuts)
	protected.POST("/shortcuts", handler.handleUpsertShortcut)
	protected.DELETE("/shortcuts/*key", handler.handleDeleteShortcut)
	protected.POST("/shortcuts/import", handler.handleBulkImport)
	protected.GET("/shortcuts/duplicates", handler.handleDuplicateKeys)
	protected.POST("/shortcuts/duplicates/repair", handler.handleRepairDuplicates)
	protected.GET("/favorites", handler.handleListFavorites)
	protected.POST("/favorites", handler.handleSetFavorite)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	shortcuts         *shortcuts.Service
	snapshots         *snapshot.Manager
	pages             *snapshot.Reader
	sessions          SessionValidator
	realtime          *RealtimeDispatcher
	snapshotLimiter   *keyedLimiter
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.shortcuts.Version()})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	email, err := shortcuts.NormalizeEmail(claims.UserEmail)
	if err != nil {
		h.logger.Warn("session carries an unusable email", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userEmailContextKey, email)
	c.Next()
}

// corsMiddleware allows credentialed requests from origins; an empty list or "*" reflects any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = origins
	}
	return cors.New(corsConfig)
}
