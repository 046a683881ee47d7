package httpservice

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/blobclient/kvpbase"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/jwt"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// AuthConfig lists the credentials accepted by the gateway.
// With neither API keys nor a JWT service configured, requests are not authenticated.
type AuthConfig struct {
	APIKeys []string
	JWT     *jwt.JWTService
}

func (a AuthConfig) enabled() bool {
	return len(a.APIKeys) > 0 || a.JWT != nil
}

func (a AuthConfig) validKey(key string) bool {
	ok := false
	for _, k := range a.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

// AuthMiddleware admits requests carrying a configured x-api-key, or a bearer
// token whose claims cover the :user and :container of the route. Read-only
// tokens are limited to GET and HEAD.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader(kvpbase.HeaderAPIKey); key != "" {
			if cfg.validKey(key) {
				c.Next()
				return
			}
			deny(c, "invalid API key")
			return
		}

		authHeader := c.GetHeader("Authorization")
		if cfg.JWT == nil || authHeader == "" {
			deny(c, "missing credentials")
			return
		}

		claims, err := cfg.JWT.Authenticate(authHeader)
		if err != nil {
			deny(c, "invalid bearer token")
			return
		}
		if claims.UserID != c.Param("user") || !claims.AllowsContainer(c.Param("container")) {
			deny(c, "token does not grant access to this container")
			return
		}
		if claims.ReadOnly && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			deny(c, "token is read-only")
			return
		}

		jwt.SetClaims(c, claims)
		c.Next()
	}
}

func deny(c *gin.Context, reason string) {
	GetLogger(c).Warn("Request rejected",
		logging.NewField("reason", reason),
		logging.NewField("ip", c.ClientIP()),
	)
	HandleError(c, errors.NewUnauthorizedError(reason))
}
