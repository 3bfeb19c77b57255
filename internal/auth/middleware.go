package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions.
type ContextKey string

// SubjectKey is the gin context key RequireBearer stores the validated
// token's subject under.
const SubjectKey ContextKey = "auth_subject"

// Middleware guards HTTP routes with a Service-validated bearer token. It
// drops Basic-auth/client-secret paths and fine-grained permission checks:
// bunctl's HTTP surface is all-or-nothing per route, gated on RequireBearer
// alone.
type Middleware struct {
	svc     *Service
	enabled bool
}

// NewMiddleware builds a Middleware. When enabled is false, RequireBearer
// is a no-op, matching expected behavior when no AuthService is
// configured.
func NewMiddleware(svc *Service, enabled bool) *Middleware {
	return &Middleware{svc: svc, enabled: enabled}
}

// RequireBearer rejects requests without a valid "Authorization: Bearer
// <token>" header, storing the token's subject in the gin context for
// handlers that want it.
func (m *Middleware) RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		token, ok := bearerToken(c.Request)
		if !ok {
			unauthorized(c, "authentication_required", "missing bearer token")
			return
		}

		subject, err := m.svc.Validate(c.Request.Context(), token)
		if err != nil {
			unauthorized(c, "authentication_failed", "invalid or expired token")
			return
		}

		c.Set(string(SubjectKey), subject)
		c.Next()
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": code, "message": message})
	c.Abort()
}
