package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionResolver resolves a bearer token to the caller's identity.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*AuthContext, error)
}

// RequireAuth returns a gin middleware that rejects requests without a valid session with 401.
// On success the AuthContext is available through GetAuthContext(c.Request.Context()).
func RequireAuth(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			slog.Warn("authentication required but not provided",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)
			abortUnauthorized(c)
			return
		}

		authCtx, err := resolver.ResolveSession(c.Request.Context(), token)
		if err != nil {
			slog.Warn("failed to resolve session",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
			)
			abortUnauthorized(c)
			return
		}

		c.Request = c.Request.WithContext(WithAuthContext(c.Request.Context(), authCtx))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "UNAUTHORIZED",
		"message": "authentication required",
	})
}
