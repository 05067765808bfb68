package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"wager-engine/internal/escrow"
	"wager-engine/internal/pkg/errs"
)

// TokenMiddleware admits only callers presenting the shared secret in the
// X-Internal-Token header. An empty token admits everyone.
func TokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if !Allowed(token, c.GetHeader(escrow.TokenHeader)) {
			log.Debug().
				Str("path", c.FullPath()).
				Str("remote", c.ClientIP()).
				Msg("Rejected request without a valid internal token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal token", "code": errs.KindValidation})
			return
		}
		c.Next()
	}
}

// Allowed reports whether presented matches token in constant time.
func Allowed(token, presented string) bool {
	if token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1
}

// LoggingMiddleware logs every request once it has been served.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logEvent := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			logEvent = log.Warn()
		}
		logEvent.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Handled request")
	}
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("Recovered from panic in handler")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": errs.KindInternal})
			}
		}()
		c.Next()
	}
}
