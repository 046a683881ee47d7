package jwt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

var (
	ErrMissingSecret    = errors.New("jwt secret key is required")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenPoisoned    = errors.New("token appears to be poisoned or tampered")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingClaims    = errors.New("required claims are missing")
	ErrTokenTooLarge    = errors.New("token size exceeds maximum allowed")
)

const (
	// MaxTokenSize to prevent DoS attacks (16KB)
	MaxTokenSize = 16 * 1024
	// MinSecretKeyLength for security
	MinSecretKeyLength = 32
	// DefaultIssuer is used when the configuration names none.
	DefaultIssuer = "blob-gateway"
)

// Claims grants a user access to blob containers.
// An empty Containers list grants every container of the user.
type Claims struct {
	UserID     string   `json:"user_id"`
	Containers []string `json:"containers,omitempty"`
	ReadOnly   bool     `json:"read_only,omitempty"`
	jwt.RegisteredClaims
}

// AllowsContainer reports whether the claims cover container.
func (c *Claims) AllowsContainer(container string) bool {
	return len(c.Containers) == 0 || slices.Contains(c.Containers, container)
}

// JWTService handles JWT token operations
type JWTService struct {
	secretKey    []byte
	issuer       string
	accessExpiry time.Duration
	logger       logging.Logger
	now          func() time.Time
}

// NewJWTService creates a new JWT service instance
func NewJWTService(secretKey, issuer string, accessExpiry time.Duration, logger logging.Logger) (*JWTService, error) {
	if len(secretKey) < MinSecretKeyLength {
		return nil, fmt.Errorf("secret key must be at least %d characters long", MinSecretKeyLength)
	}

	return &JWTService{
		secretKey:    []byte(secretKey),
		issuer:       issuer,
		accessExpiry: accessExpiry,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// GenerateAccessToken signs a token for userID scoped to containers.
func (j *JWTService) GenerateAccessToken(userID string, containers []string, readOnly bool) (string, error) {
	if err := validateInputs(userID, containers); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	now := j.now()
	claims := &Claims{
		UserID:     userID,
		Containers: containers,
		ReadOnly:   readOnly,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
			Subject:   userID,
			ID:        generateTokenID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		j.logger.Error("Failed to sign token", logging.NewField("error", err))
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	if len(tokenString) > MaxTokenSize {
		return "", ErrTokenTooLarge
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if len(tokenString) > MaxTokenSize {
		return nil, ErrTokenTooLarge
	}

	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrInvalidToken
	}

	if containsSuspiciousPatterns(tokenString) {
		j.logger.Warn("Suspicious token pattern detected", logging.NewField("token_length", len(tokenString)))
		return nil, ErrTokenPoisoned
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// HMAC only, so a token cannot pick its own verification algorithm.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		}
		j.logger.Warn("Token validation failed", logging.NewField("error", err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrMissingClaims)
	}
	if err := validateInputs(claims.UserID, claims.Containers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}

	return claims, nil
}

func validateInputs(userID string, containers []string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user_id cannot be empty")
	}

	for _, input := range append([]string{userID}, containers...) {
		if len(input) > 255 {
			return errors.New("input value exceeds maximum length")
		}
		if strings.ContainsAny(input, "/\\") || strings.Contains(input, "..") {
			return fmt.Errorf("invalid character in %q", input)
		}
	}
	return nil
}

// containsSuspiciousPatterns checks for patterns that might indicate a poisoned token
func containsSuspiciousPatterns(tokenString string) bool {
	if strings.Count(tokenString, "{") > 10 || strings.Count(tokenString, "[") > 10 {
		return true
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return false // Invalid format, will be caught by parser
	}

	return len(parts[1]) > 8192
}

// generateTokenID generates a unique token ID (JTI claim)
func generateTokenID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
