package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"carelink/backend/internal/callsession"
	"carelink/backend/internal/chathub"
	"carelink/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type connectionView struct {
	UserID      string                `json:"userId"`
	Role        models.Role           `json:"userType"`
	Status      models.PresenceStatus `json:"status"`
	ConnectedAt time.Time             `json:"connectedAt"`
}

// ListConnections returns every live channel held by this instance.
func (h *Handler) ListConnections(c *gin.Context) {
	conns := h.Hub.Connections()
	out := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		out = append(out, connectionView{
			UserID:      conn.UserID,
			Role:        conn.Role,
			Status:      conn.Status,
			ConnectedAt: conn.ConnectedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// UserOnline answers isUserOnline for this instance and reports the shared
// presence mirror next to it.
func (h *Handler) UserOnline(c *gin.Context) {
	id := c.Param("id")
	resp := gin.H{"userId": id, "online": h.Hub.IsUserOnline(id)}

	status, found, err := h.Store.GetPresence(id)
	if err != nil {
		log.Warn().Str("module", "api.admin").Str("user", id).Err(err).Msg("presence mirror unavailable")
	} else if found {
		resp["mirroredStatus"] = status
	}
	c.JSON(http.StatusOK, resp)
}

// StaleCalls lists live sessions that have been waiting longer than the
// grace period (or ?minutes=N).
func (h *Handler) StaleCalls(c *gin.Context) {
	grace := h.Config.WaitingGracePeriod
	if raw := c.Query("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a non-negative integer"})
			return
		}
		grace = time.Duration(n) * time.Minute
	}

	calls := h.Calls.Stale(grace)
	if calls == nil {
		calls = []*models.CallSession{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

type cancelRequest struct {
	CancelledBy string `json:"cancelledBy"`
	Reason      string `json:"reason"`
}

// CancelCall cancels a session on behalf of the scheduling side.
func (h *Handler) CancelCall(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
			return
		}
	}
	if req.CancelledBy == "" {
		req.CancelledBy = "system"
	}

	id := c.Param("id")
	snap, _, err := h.Calls.Cancel(id, req.CancelledBy, req.Reason)
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video call not found"})
		return
	case errors.Is(err, callsession.ErrTerminal), errors.Is(err, callsession.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Video call has already ended"})
		return
	case err != nil:
		log.Error().Str("module", "api.admin").Str("call", id).Err(err).Msg("cancel failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel call"})
		return
	}

	log.Info().Str("module", "api.admin").Str("call", id).Str("by", req.CancelledBy).Msg("call cancelled")
	c.JSON(http.StatusOK, snap)
}

// CallTransition applies an operator state change to a live session and
// returns the resulting snapshot.
func (h *Handler) CallTransition(action string, apply func(id string) (*models.CallSession, callsession.Transition, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		snap, tr, err := apply(id)
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Video call not found"})
			return
		case errors.Is(err, callsession.ErrTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "Video call has already ended"})
			return
		case errors.Is(err, callsession.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Cannot " + action + " a " + string(tr.From) + " call"})
			return
		case err != nil:
			log.Error().Str("module", "api.admin").Str("call", id).Str("action", action).Err(err).Msg("call transition failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update call"})
			return
		}

		log.Info().Str("module", "api.admin").Str("call", id).Str("action", action).
			Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("call state changed by operator")
		c.JSON(http.StatusOK, snap)
	}
}

// Notify publishes a notification on the bus; whichever instance holds the
// target's channel delivers it.
func (h *Handler) Notify(c *gin.Context) {
	var req models.NotificationPayload
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetUserID == "" || len(req.Notification) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targetUserId and notification are required"})
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	if err := h.Store.PublishNotification(chathub.NotificationChannel, payload); err != nil {
		log.Error().Str("module", "api.admin").Str("user", req.TargetUserID).Err(err).Msg("publish notification failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Notification bus unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}
