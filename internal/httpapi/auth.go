package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeRead  = "records:read"
	ScopeWrite = "records:write"

	tokenAudience = "snipstore"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

type tokenClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c tokenClaims) has(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// MintToken signs an HS256 token for subject carrying scopes.
func MintToken(secret, subject string, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	if subject == "" {
		subject = "snipsync"
	}
	claims := tokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authorizeBearer(authHeader, jwtSecret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return authorizeToken(raw, jwtSecret, requiredScope, now)
}

func authorizeToken(raw, jwtSecret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	if raw == "" {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return tokenClaims{}, unauthorized("token expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return tokenClaims{}, unauthorized("jwt signature mismatch")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return tokenClaims{}, unauthorized("invalid aud claim")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return tokenClaims{}, unauthorized("invalid jwt format")
		default:
			return tokenClaims{}, unauthorized("invalid token")
		}
	}
	if len(claims.Scopes) == 0 {
		return tokenClaims{}, &authError{status: http.StatusForbidden, code: "forbidden", message: "no scopes granted"}
	}
	if requiredScope != "" && !claims.has(requiredScope) {
		return tokenClaims{}, &authError{
			status:  http.StatusForbidden,
			code:    "forbidden",
			message: "missing required scope: " + requiredScope,
		}
	}
	return claims, nil
}
