package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errorStatuses = []struct {
	kind   error
	status int
	reason string
}{
	{kind: square.ErrIdentityRequired, status: http.StatusUnauthorized, reason: "identity_required"},
	{kind: square.ErrNotCaptain, status: http.StatusForbidden, reason: "not_captain"},
	{kind: square.ErrSameTeam, status: http.StatusUnprocessableEntity, reason: "same_team"},
	{kind: square.ErrNotFound, status: http.StatusNotFound, reason: "not_found"},
	{kind: square.ErrInvalidInput, status: http.StatusBadRequest, reason: "invalid_input"},
	{kind: square.ErrInvalidSquareID, status: http.StatusBadRequest, reason: "invalid_square_id"},
	{kind: square.ErrInvalidUserID, status: http.StatusBadRequest, reason: "invalid_user_id"},
	{kind: square.ErrUnavailable, status: http.StatusServiceUnavailable, reason: "unavailable"},
}

// writeError maps service errors onto HTTP responses. Unknown failures are logged and hidden.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	code := square.ErrorCode(err)
	for _, mapping := range errorStatuses {
		if errors.Is(err, mapping.kind) {
			if mapping.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
				h.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
			}
			c.JSON(mapping.status, errorPayload{Error: mapping.reason, Code: code})
			return
		}
	}
	h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal", Code: code})
}
