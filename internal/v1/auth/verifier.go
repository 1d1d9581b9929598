// Package auth verifies bearer tokens presented on the HTTP boundary and
// during the WebSocket handshake.
//
// Verification outcomes are discriminated into three kinds so callers can
// choose close codes and reason strings without inspecting provider
// internals:
//   - ErrInvalidToken: the token is malformed, unsigned, or fails claims checks
//   - ErrExpiredToken: the token was valid once but is past its expiry
//   - anything else: transport or key-set failures ("other")
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
)

var (
	// ErrInvalidToken marks tokens that fail parsing or claims validation.
	ErrInvalidToken = errors.New("invalid authentication token")
	// ErrExpiredToken marks tokens rejected solely because they expired.
	ErrExpiredToken = errors.New("authentication token has expired")
)

// Verifier resolves a bearer token to a user identifier.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// CloseReason maps a verification error to the reason string sent in the
// close frame of a rejected WebSocket handshake.
func CloseReason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "Authentication token has expired"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid authentication token"
	default:
		return "Authentication failed"
	}
}

// Validator verifies JWTs against a JWKS endpoint, checking issuer and
// audience. It implements Verifier.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewValidator creates a Validator for the given identity domain. It
// registers the domain's JWKS endpoint with a refreshing cache and fetches
// the keys once to confirm connectivity. Additional jwk.RegisterOption
// values may be supplied for testability.
func NewValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}

	// Fetch the keys for the first time to ensure connectivity.
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}

		return pubKey, nil
	}

	return &Validator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: audience,
	}, nil
}

// Verify parses and validates a token, returning the subject claim as the
// user identifier. Expired tokens are reported as ErrExpiredToken; all other
// validation failures as ErrInvalidToken.
func (v *Validator) Verify(ctx context.Context, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated origin list from the
// environment, falling back to the given defaults.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// MockVerifier is a development-only verifier that accepts any well-formed
// token and extracts the 'sub' claim without signature verification, so
// client identity lines up between frontend and backend in local setups.
type MockVerifier struct{}

func (m *MockVerifier) Verify(ctx context.Context, tokenString string) (string, error) {
	var subject string

	// Parse JWT token (format: header.payload.signature)
	parts := strings.Split(tokenString, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var claims map[string]interface{}
			if json.Unmarshal(payload, &claims) == nil {
				if sub, ok := claims["sub"].(string); ok {
					subject = sub
				}
			}
		}
	}

	if subject == "" {
		subject = "dev-user-123"
	}
	return subject, nil
}
