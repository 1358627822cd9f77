package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

const favoriteStatusError = "error"

type favoriteRequest struct {
	Key  string `json:"key"`
	Mode string `json:"mode"`
}

func (h *httpHandler) handleListFavorites(c *gin.Context) {
	keys, err := h.shortcuts.ListFavorites(c.Request.Context(), c.GetString(userEmailContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "favorites_failed"})
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *httpHandler) handleSetFavorite(c *gin.Context) {
	var request favoriteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": favoriteStatusError, "message": "invalid request body"})
		return
	}
	mode, err := shortcuts.ParseFavoriteMode(request.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": favoriteStatusError, "key": request.Key, "message": err.Error()})
		return
	}

	status, err := h.shortcuts.SetFavorite(c.Request.Context(), c.GetString(userEmailContextKey), request.Key, mode)
	if err != nil {
		var validation *shortcuts.ValidationError
		switch {
		case errors.As(err, &validation):
			c.JSON(http.StatusBadRequest, gin.H{"status": favoriteStatusError, "key": request.Key, "message": validation.Error()})
		case errors.Is(err, lock.ErrLockTimeout):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    favoriteStatusError,
				"key":       request.Key,
				"error":     errorCodeServerBusy,
				"retryable": true,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"status": favoriteStatusError, "key": request.Key, "message": "could not update favorite"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "key": request.Key})
}
