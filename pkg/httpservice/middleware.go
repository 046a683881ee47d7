package httpservice

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/jwt"
	"github.com/yourorg/go-blob-kit/pkg/logging"
	"github.com/yourorg/go-blob-kit/pkg/middleware"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	RPS   float64 // Requests per second
	Burst int     // Maximum burst size
}

// RateLimitMiddleware limits the number of requests per second per IP.
// Limiters of clients idle for three minutes are dropped.
func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > time.Minute {
			for k, v := range clients {
				if now.Sub(v.lastSeen) > 3*time.Minute {
					delete(clients, k)
				}
			}
			lastSweep = now
		}

		cl, found := clients[ip]
		if !found {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		allowed := cl.limiter.Allow()
		mu.Unlock()

		if !allowed {
			appErr := errors.NewUnavailableError("too many requests")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, appErr.ToErrorResponse())
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security-related headers to responses.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests with structured logging.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := []logging.Field{
			logging.NewField("method", c.Request.Method),
			logging.NewField("path", path),
			logging.NewField("status", c.Writer.Status()),
			logging.NewField("latency_ms", latency.Milliseconds()),
			logging.NewField("bytes_out", c.Writer.Size()),
			logging.NewField("ip", c.ClientIP()),
			logging.NewField("user_agent", c.Request.UserAgent()),
		}

		if raw != "" {
			fields = append(fields, logging.NewField("query", raw))
		}

		if requestID := middleware.GetRequestIDFromGin(c); requestID != "" {
			fields = append(fields, logging.NewField("request_id", requestID))
		}
		if claims, ok := jwt.GetClaims(c); ok {
			fields = append(fields, logging.NewField("token_user", claims.UserID))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("HTTP request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}

// RecoveryMiddleware recovers from panics and logs the error.
func RecoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			logging.NewField("error", recovered),
			logging.NewField("path", c.Request.URL.Path),
			logging.NewField("method", c.Request.Method),
		)

		appErr := errors.NewInternalError("internal server error")
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToErrorResponse())
	})
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// CORSMiddleware adds CORS headers with configuration.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowed := false

		if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
			allowed = true
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, o := range cfg.AllowedOrigins {
				if o == origin {
					allowed = true
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

			headers := "Content-Type, Content-Length, Authorization, X-Api-Key, X-Request-ID, X-Trace-ID, accept, origin, Cache-Control"
			if len(cfg.AllowedHeaders) > 0 {
				headers = strings.Join(cfg.AllowedHeaders, ", ")
			}
			c.Writer.Header().Set("Access-Control-Allow-Headers", headers)

			methods := "GET, HEAD, PUT, POST, DELETE, OPTIONS"
			if len(cfg.AllowedMethods) > 0 {
				methods = strings.Join(cfg.AllowedMethods, ", ")
			}
			c.Writer.Header().Set("Access-Control-Allow-Methods", methods)
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, ETag, X-Created-Utc, X-Last-Update-Utc, X-Request-ID, X-Trace-ID")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
