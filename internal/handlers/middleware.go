package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// tokenQueryParam carries the token for websocket clients, which cannot set
// request headers from a browser.
const tokenQueryParam = "token"

func (h *Handler) observerAuthMiddleware(c *gin.Context) {
	if !h.requireAuth {
		c.Next()
		return
	}
	if h.services.Authorization == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "authorization is not configured",
		})
		return
	}

	token, ok := bearerToken(c)
	if !ok {
		return
	}

	userId, err := h.services.ParseToken(token)
	if err != nil {
		h.log.Debugw("observer_auth_rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	// store in Gin context
	c.Set("userId", userId)
	c.Next()
}

// bearerToken reads the Authorization header, falling back to ?token=.
// It aborts the request and returns false when neither is usable.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query(tokenQueryParam); token != "" {
			return token, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing Authorization header",
		})
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid Authorization header format",
		})
		return "", false
	}
	return parts[1], true
}
