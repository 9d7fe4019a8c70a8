// Package middleware provides HTTP middleware for the Amdox API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/preesha73/Amdox-Website/internal/auth"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// IdentityContextKey is the context key for the authenticated caller.
const IdentityContextKey ContextKey = "identity"

// TokenVerifier turns a raw bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (*models.Identity, error)
}

// AuthMiddleware returns a Gin middleware that requires a valid bearer token.
func AuthMiddleware(tokens TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		raw, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var id *models.Identity
			if id, err = tokens.Verify(raw); err == nil {
				c.Set(string(IdentityContextKey), id)
				log.Debug().
					Str("user_id", id.UserID).
					Str("role", string(id.Role)).
					Str("path", c.Request.URL.Path).
					Msg("authenticated request")
				c.Next()
				return
			}
		}

		log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unauthenticated request")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authorized"})
	}
}

// RequireRole returns a Gin middleware that only admits callers with role.
// It must run after AuthMiddleware.
func RequireRole(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authorized"})
			return
		}
		if id.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: insufficient role"})
			return
		}
		c.Next()
	}
}

// GetIdentity retrieves the authenticated caller from the Gin context.
// Returns nil if the request is not authenticated.
func GetIdentity(c *gin.Context) *models.Identity {
	v, exists := c.Get(string(IdentityContextKey))
	if !exists {
		return nil
	}
	id, ok := v.(*models.Identity)
	if !ok {
		return nil
	}
	return id
}
