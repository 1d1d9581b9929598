package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/auth"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
)

const userIDKey = "user_id"

// requireAuth verifies the bearer token and stores the user id on the gin
// context.
func (h *handlers) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		userID, err := h.deps.Verifier.Verify(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			logging.Warn(c.Request.Context(), "request auth failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.CloseReason(err)})
			return
		}

		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(
			logging.WithContext(c.Request.Context(), "", userID, ""),
		)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		return v.(string)
	}
	return ""
}

// requireHost loads the room and aborts unless the caller is its host.
func (h *handlers) requireHost(c *gin.Context, roomID string) (string, bool) {
	userID := currentUser(c)
	room, err := h.deps.Rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		h.roomError(c, roomID, err)
		return "", false
	}
	if room.HostID != userID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only the room host can perform this action"})
		return "", false
	}
	return userID, true
}
