package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/snapshot"
)

const (
	errorCodeSnapshotExpired = "SNAPSHOT_EXPIRED"
	errorCodeServerBusy      = "SERVER_BUSY"
	errorCodeRateLimited     = "RATE_LIMITED"
	errorCodeInvalidPage     = "invalid_page"
	errorCodeSnapshotFailed  = "snapshot_failed"
	errorCodePageFailed      = "page_failed"
)

type snapshotResponse struct {
	Token    string    `json:"token"`
	Total    int       `json:"total"`
	BuiltAt  time.Time `json:"built_at"`
	PageSize int       `json:"page_size"`
}

type pageResponse struct {
	Items   []shortcuts.Shortcut `json:"items"`
	Offset  int                  `json:"offset"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"has_more"`
}

func (h *httpHandler) handleBeginSnapshot(c *gin.Context) {
	email := c.GetString(userEmailContextKey)
	if allowed, retryAfter := h.snapshotLimiter.allow(email); !allowed {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": errorCodeRateLimited, "retryable": true})
		return
	}

	info, err := h.snapshots.Begin(c.Request.Context())
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": errorCodeServerBusy, "retryable": true})
			return
		}
		h.logger.Error("snapshot creation failed", zap.String("user_email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorCodeSnapshotFailed})
		return
	}

	c.JSON(http.StatusOK, snapshotResponse{
		Token:    info.Token,
		Total:    info.Total,
		BuiltAt:  info.BuiltAt,
		PageSize: info.PageSize,
	})
}

func (h *httpHandler) handleFetchPage(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidPage})
		return
	}
	limit, err := queryInt(c, "limit", snapshot.DefaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidPage})
		return
	}

	page, err := h.pages.FetchPage(c.Request.Context(), c.Param("token"), offset, limit)
	switch {
	case err == nil:
		if page.Items == nil {
			page.Items = []shortcuts.Shortcut{}
		}
		c.JSON(http.StatusOK, pageResponse{
			Items:   page.Items,
			Offset:  page.Offset,
			Total:   page.Total,
			HasMore: page.HasMore,
		})
	case errors.Is(err, snapshot.ErrSnapshotExpired):
		c.JSON(http.StatusGone, gin.H{"error": errorCodeSnapshotExpired, "retryable": true})
	case errors.Is(err, snapshot.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidPage, "max_limit": h.pages.MaxPageLimit()})
	default:
		h.logger.Error("snapshot page failed", zap.Int("offset", offset), zap.Int("limit", limit), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorCodePageFailed})
	}
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
