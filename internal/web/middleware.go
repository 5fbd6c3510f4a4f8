package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs each request's method, path, status and latency.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		logrus.WithFields(logrus.Fields{
			"status":    c.Writer.Status(),
			"latency":   latency,
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
		}).Debug("dashboard request")
	}
}

// RateLimitMiddleware caps each client IP to maxRequests per windowSize,
// a defensive limit appropriate for a small self-hosted status page, not
// a public API.
func RateLimitMiddleware() gin.HandlerFunc {
	type client struct {
		requests int
		lastSeen time.Time
	}

	clients := make(map[string]*client)
	const maxRequests = 120
	const windowSize = time.Minute

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		for k, v := range clients {
			if now.Sub(v.lastSeen) > windowSize {
				delete(clients, k)
			}
		}

		cl, exists := clients[ip]
		if !exists {
			clients[ip] = &client{requests: 1, lastSeen: now}
			c.Next()
			return
		}
		if now.Sub(cl.lastSeen) > windowSize {
			cl.requests = 1
			cl.lastSeen = now
			c.Next()
			return
		}
		cl.requests++
		if cl.requests > maxRequests {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityMiddleware sets the headers appropriate for a read-only JSON
// and websocket dashboard with no embedded third-party scripts.
func SecurityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
