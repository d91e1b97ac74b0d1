package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/squares/internal/auth"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const accessTokenQueryParam = "access_token"

// UserResolver turns validated session claims into the acting user.
type UserResolver interface {
	ResolveUser(ctx context.Context, claims auth.SessionClaims) (square.User, error)
}

// authorizeRequest accepts a bearer header or session cookie. EventSource clients cannot set
// headers, so the access_token query parameter is accepted as a last resort.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.users.ResolveUser(c.Request.Context(), claims)
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(userContextKey, user)
	c.Next()
}
