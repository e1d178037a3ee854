package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carte-api/internal/domain"
	"carte-api/internal/service"
)

const accountKey = "account"

// requireAuth resolves the bearer token to a stored account and aborts with 401
// when either step fails.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		username, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		account, err := h.users.GetByUsername(c.Request.Context(), username)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			h.writeError(c, err)
			c.Abort()
			return
		}

		c.Set(accountKey, account)
		c.Next()
	}
}

func requireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentAccount(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// currentAccount returns the caller set by requireAuth.
func currentAccount(c *gin.Context) *domain.Account {
	if v, ok := c.Get(accountKey); ok {
		if account, ok := v.(*domain.Account); ok {
			return account
		}
	}
	return &domain.Account{}
}
