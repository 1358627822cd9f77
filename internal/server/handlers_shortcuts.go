package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

const maxImportItems = 5000

type shortcutPayload struct {
	Key         string `json:"key"`
	Expansion   string `json:"expansion"`
	Application string `json:"application"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Tags        string `json:"tags"`
}

func (p shortcutPayload) input() shortcuts.ShortcutInput {
	return shortcuts.ShortcutInput{
		Key:         p.Key,
		Expansion:   p.Expansion,
		Application: p.Application,
		Description: p.Description,
		Language:    p.Language,
		Tags:        p.Tags,
	}
}

type importRequest struct {
	Items []shortcutPayload `json:"items"`
}

func (h *httpHandler) handleListShortcuts(c *gin.Context) {
	listing, err := h.shortcuts.ListShortcuts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	rows := listing.Rows
	if rows == nil {
		rows = []shortcuts.Shortcut{}
	}
	c.JSON(http.StatusOK, gin.H{"items": rows, "version": listing.Version})
}

func (h *httpHandler) handleUpsertShortcut(c *gin.Context) {
	var payload shortcutPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "invalid request body"})
		return
	}

	result, err := h.shortcuts.UpsertShortcut(c.Request.Context(), payload.input())
	if err != nil {
		writeMutationError(c, err, "could not save the shortcut")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "action": result.Action, "version": result.Version})
}

func (h *httpHandler) handleDeleteShortcut(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	result, err := h.shortcuts.DeleteShortcut(c.Request.Context(), key)
	if err != nil {
		writeMutationError(c, err, "could not delete the shortcut")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": fmt.Sprintf("deleted %d row(s)", result.Removed),
		"version": result.Version,
	})
}

func (h *httpHandler) handleBulkImport(c *gin.Context) {
	var request importRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "invalid request body"})
		return
	}
	if len(request.Items) > maxImportItems {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": fmt.Sprintf("at most %d items per import", maxImportItems)})
		return
	}

	inputs := make([]shortcuts.ShortcutInput, 0, len(request.Items))
	for _, item := range request.Items {
		inputs = append(inputs, item.input())
	}
	result, err := h.shortcuts.BulkImport(c.Request.Context(), inputs)
	if err != nil {
		writeMutationError(c, err, "import failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"created":  result.Created,
		"updated":  result.Updated,
		"rejected": result.Rejected,
		"version":  result.Version,
	})
}

func (h *httpHandler) handleDuplicateKeys(c *gin.Context) {
	groups, err := h.shortcuts.DuplicateKeys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "duplicates_failed"})
		return
	}
	if groups == nil {
		groups = []shortcuts.DuplicateGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"items": groups})
}

func (h *httpHandler) handleRepairDuplicates(c *gin.Context) {
	keys, err := h.shortcuts.RepairDuplicates(c.Request.Context())
	if err != nil {
		writeMutationError(c, err, "repair failed")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	h.logger.Info("duplicate keys repaired",
		zap.String("user_email", c.GetString(userEmailContextKey)),
		zap.Strings("keys", keys))
	c.JSON(http.StatusOK, gin.H{"ok": true, "keys": keys})
}

// writeMutationError maps service failures onto the {ok:false} envelope. The service has already logged them.
func writeMutationError(c *gin.Context, err error, fallback string) {
	var validation *shortcuts.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": validation.Error()})
	case errors.Is(err, shortcuts.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": fallback})
	case errors.Is(err, shortcuts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "message": "not found"})
	case errors.Is(err, lock.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":        false,
			"error":     errorCodeServerBusy,
			"retryable": true,
			"message":   "server busy, try again",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": fallback})
	}
}
