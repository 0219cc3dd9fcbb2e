package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// GetHistory returns stored messages of one conversation to either party,
// oldest first. Clients use it to catch up after reconnecting.
func (h *Handler) GetHistory(c *gin.Context) {
	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	patientID, doctorID := c.Param("patientId"), c.Param("doctorId")
	if identity.ID != patientID && identity.ID != doctorID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied"})
		return
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC 3339 timestamp"})
			return
		}
		before = &t
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	messages, err := h.Store.GetConversationHistory(patientID, doctorID, before, limit)
	if err != nil {
		log.Error().Str("module", "api").Str("user", identity.ID).Err(err).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
