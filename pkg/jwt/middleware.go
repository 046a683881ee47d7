package jwt

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyClaims is the gin context key holding validated claims.
const ContextKeyClaims = "jwt_claims"

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
// It returns ErrInvalidToken for any other shape.
func BearerToken(authHeader string) (string, error) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrInvalidToken
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenString == "" || containsMultipleTokens(tokenString) {
		return "", ErrInvalidToken
	}
	return tokenString, nil
}

// Authenticate validates the bearer token carried by an Authorization header value.
func (j *JWTService) Authenticate(authHeader string) (*Claims, error) {
	tokenString, err := BearerToken(authHeader)
	if err != nil {
		return nil, err
	}
	return j.ValidateToken(tokenString)
}

// SetClaims stores validated claims on the request for later handlers.
func SetClaims(c *gin.Context, claims *Claims) {
	c.Set(ContextKeyClaims, claims)
}

// GetClaims extracts full JWT claims from context
func GetClaims(c *gin.Context) (*Claims, bool) {
	claims, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	jwtClaims, ok := claims.(*Claims)
	return jwtClaims, ok
}

// containsMultipleTokens checks if the token string contains multiple tokens
func containsMultipleTokens(tokenString string) bool {
	return strings.Count(tokenString, ".") > 2
}
