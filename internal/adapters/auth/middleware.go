package auth

import (
	"net/http"
	"strings"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const userKey = "user_id"

// Middleware authenticates the request from "Authorization: Bearer <jwt>"
// or, for browsers opening a WebSocket, the "token" query parameter.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.Verify(tokenFrom(c.Request))
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.auth").Str("path", c.FullPath()).Msg("rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": domain.Code(err), "error": "unauthenticated"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// ServiceMiddleware admits only callers holding a token signed with the
// service secret. End-user tokens are refused with 403.
func ServiceMiddleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "service token required"})
			return
		}
		caller, err := v.Verify(tok)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.auth").Str("path", c.FullPath()).Msg("service call rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "not a service token"})
			return
		}
		c.Set(userKey, caller)
		c.Next()
	}
}

// UserFrom returns the identity stored by Middleware, empty when absent.
func UserFrom(c *gin.Context) domain.UserID {
	v, ok := c.Get(userKey)
	if !ok {
		return ""
	}
	user, _ := v.(domain.UserID)
	return user
}

func tokenFrom(r *http.Request) string {
	if tok := bearer(r); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

func bearer(r *http.Request) string {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(tok)
}
