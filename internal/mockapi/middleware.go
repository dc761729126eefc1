package mockapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/logger"
	"github.com/nuwan94/leaf/pkg/types"
)

const ctxUser = "user"

// authMiddleware validates the bearer access token and loads the user.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := s.tokens.verify(parts[1], tokenAccess)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		s.mu.Lock()
		u, ok := s.users[claims.Subject]
		stale := claims.Epoch != s.epoch
		s.mu.Unlock()
		if !ok || stale {
			abort(c, http.StatusUnauthorized, "token expired")
			return
		}

		c.Set(ctxUser, u.User)
		c.Next()
	}
}

// requireRole rejects users outside roles with 403.
func requireRole(roles ...session.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		for _, r := range roles {
			if u.RoleID == r.ID() {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "insufficient permissions")
	}
}

func currentUser(c *gin.Context) types.User {
	v, _ := c.Get(ctxUser)
	u, _ := v.(types.User)
	return u
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, types.ErrorResponse{Error: msg})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		logger.Debugf("mockapi: [%s] %s - %d (%v)", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
