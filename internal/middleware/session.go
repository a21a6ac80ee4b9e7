package middleware

import (
	"errors"
	"net/http"

	"backend/internal/cache"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// sessionStore holds the Redis-backed session store — set via InitSessionMiddleware
var sessionStore *cache.SessionStore

// InitSessionMiddleware sets the session store RequireRole uses for idle-timeout
// checks. A nil store (Redis unavailable) disables the check entirely.
func InitSessionMiddleware(store *cache.SessionStore) {
	sessionStore = store
}

// touchSession slides the caller's session window forward and aborts the
// request when the session has idled out. Returns false when aborted.
func touchSession(c *gin.Context, tokenID string) bool {
	if sessionStore == nil || tokenID == "" {
		// Tokens issued before session tracking carry no jti; let them ride
		// on their own expiry.
		return true
	}

	if err := sessionStore.Touch(c.Request.Context(), tokenID); err != nil {
		if errors.Is(err, cache.ErrSessionExpired) {
			ClearTokenCookies(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Session expired, please log in again"))
			return false
		}
		// Redis hiccup: fail open, the JWT expiry still bounds the session
	}
	return true
}
