package handler

import (
	"errors"
	"net/http"

	"carelink/backend/internal/auth"
	"carelink/backend/internal/chathub"
	"carelink/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the handshake and upgrades it to a realtime
// channel. Rejected handshakes never reach the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		// Browsers cannot set headers on a WebSocket handshake.
		token = c.Query("token")
	}

	identity, err := h.Verifier.Verify(token)
	if err != nil {
		h.Metrics.ConnectionRejected("unauthenticated")
		log.Info().Str("module", "api.ws").Str("remote", c.ClientIP()).Msg("handshake rejected: unauthenticated")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication error"})
		return
	}

	if err := h.Status.Check(identity.ID, identity.Role); err != nil {
		if errors.Is(err, models.ErrAccountInactive) {
			h.Metrics.ConnectionRejected("inactive")
			log.Info().Str("module", "api.ws").Str("user", identity.ID).Msg("handshake rejected: account inactive")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
			return
		}
		h.Metrics.ConnectionRejected("error")
		log.Error().Str("module", "api.ws").Str("user", identity.ID).Err(err).Msg("account status check failed")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication error"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "api.ws").Str("user", identity.ID).Err(err).Msg("upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, identity.ID, identity.Role, identity.Name, h.clientOptions())
	h.Hub.Admit(client)
	client.Run()
}
