package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy allows same-origin assets and websocket upgrades.
const DefaultContentSecurityPolicy = "default-src 'self'; connect-src 'self' ws: wss:; media-src 'self' blob:"

// SecurityHeaders sets hardening headers. The recorder page needs the
// microphone, so it is allowed for the same origin.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", DefaultContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Permissions-Policy", "geolocation=(), camera=(), microphone=(self)")
		c.Next()
	}
}
