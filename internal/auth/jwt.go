// Package auth - jwt.go verifies the HS256 tokens issued by the hosted backend and can mint
// tokens of the same shape for local testing. The shared secret is read once from
// GGR_JWT_SECRET.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-green-rwanda/admin-backend/internal/config"
)

// SecretEnv names the environment variable holding the signing secret
const SecretEnv = "GGR_JWT_SECRET"

// DefaultIssuer is used by GenerateJWT when no issuer is given
const DefaultIssuer = "go-green-rwanda"

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// ErrInvalidToken is returned for tokens that fail verification
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims structure
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim
func (c *Claims) UserID() string {
	return c.Subject
}

// isDevMode checks if we're in development mode (duplicated here to avoid import cycle)
func isDevMode() bool {
	devMode := os.Getenv("GGR_DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that the JWT secret is configured. Outside dev mode a missing
// secret is an error; in dev mode a random one is generated and a warning logged.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(SecretEnv)

		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn(SecretEnv + " not set, using an auto-generated secret for development; tokens from the hosted backend will not verify")
			} else {
				jwtSecretErr = fmt.Errorf("%s environment variable is required; it must match the secret used by the hosted backend", SecretEnv)
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn(SecretEnv + " is shorter than the recommended 32 characters")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if ValidateJWTSecret() fails.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// TokenRequest describes the identity put into a generated token
type TokenRequest struct {
	UserID    string
	Email     string
	Name      string
	Role      string
	Issuer    string
	ExpiresIn time.Duration
}

// GenerateJWT signs a token with the shared secret
func GenerateJWT(req TokenRequest) (string, error) {
	if req.ExpiresIn == 0 {
		req.ExpiresIn = time.Hour
	}
	if req.Issuer == "" {
		req.Issuer = DefaultIssuer
	}

	now := time.Now()
	claims := &Claims{
		Email: req.Email,
		Name:  req.Name,
		Role:  req.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(req.ExpiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    req.Issuer,
			Subject:   req.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// Verifier validates incoming tokens against the configured issuer and role claim
type Verifier struct {
	issuer    string
	roleClaim string
}

// NewVerifier creates a Verifier from the auth configuration
func NewVerifier(cfg *config.AuthConfig) *Verifier {
	v := &Verifier{roleClaim: "role"}
	if cfg != nil {
		v.issuer = cfg.Issuer
		if cfg.RoleClaim != "" {
			v.roleClaim = cfg.RoleClaim
		}
	}
	return v
}

// Verify parses and validates tokenString. The subject claim is required.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(GetJWTSecret()), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if v.roleClaim != "role" {
		raw := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, raw); err == nil {
			role, _ := raw[v.roleClaim].(string)
			claims.Role = role
		}
	}

	return claims, nil
}

// ValidateJWT verifies tokenString without an issuer check
func ValidateJWT(tokenString string) (*Claims, error) {
	return NewVerifier(nil).Verify(tokenString)
}
