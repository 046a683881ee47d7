package jwt

import (
	"time"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// Config holds JWT configuration
type Config struct {
	SecretKey             string
	Issuer                string
	AccessTokenExpiryMins int
}

// NewJWTServiceFromConfig creates a new JWT service from configuration
func NewJWTServiceFromConfig(cfg Config, logger logging.Logger) (*JWTService, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingSecret
	}

	accessExpiry := time.Duration(cfg.AccessTokenExpiryMins) * time.Minute
	if accessExpiry == 0 {
		accessExpiry = 15 * time.Minute
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	return NewJWTService(cfg.SecretKey, issuer, accessExpiry, logger)
}
