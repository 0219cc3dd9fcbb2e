package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"carelink/backend/internal/auth"
	"carelink/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const adminTokenHeader = "X-Admin-Token"

// AdminOnly guards operator routes with the shared admin token. The routes
// are disabled when no token is configured.
func (h *Handler) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := h.Config.AdminToken
		if want == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin API disabled"})
			return
		}
		got := c.GetHeader(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin token"})
			return
		}
		c.Next()
	}
}

type tokenRequest struct {
	ID   string      `json:"id"`
	Role models.Role `json:"userType"`
	Name string      `json:"name"`
}

// IssueToken signs an access token for an identity. Used by integration
// tooling; end users get their tokens from the platform login.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	token, err := h.Verifier.Issue(auth.Identity{ID: req.ID, Role: req.Role, Name: req.Name})
	if errors.Is(err, models.ErrValidationFailed) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and a valid userType are required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "id": req.ID, "userType": req.Role})
}

// authenticate verifies the bearer credential of a plain HTTP request.
func (h *Handler) authenticate(c *gin.Context) (*auth.Identity, bool) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return nil, false
	}
	identity, err := h.Verifier.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return nil, false
	}
	return identity, true
}
