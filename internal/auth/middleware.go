package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireToken verifies a bearer token and injects the Principal into
// request context. Role checks belong to the handlers.
func RequireToken(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := v.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		p := Principal{ID: claims.UserID, Role: claims.Role}
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))

		// Also store on gin context for handler convenience.
		c.Set("principal", p)

		c.Next()
	}
}

// RequireRole aborts unless the verified principal holds one of the roles.
// Must run after RequireToken.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := PrincipalFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// PrincipalFromGin pulls the verified principal from gin context.
func PrincipalFromGin(c *gin.Context) (Principal, bool) {
	if v, ok := c.Get("principal"); ok {
		if p, ok := v.(Principal); ok && p.ID != "" {
			return p, true
		}
	}
	return Principal{}, false
}
