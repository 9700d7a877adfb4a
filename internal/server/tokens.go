package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// errInvalidToken is returned for any token that fails verification.
var errInvalidToken = errors.New("invalid token")

// tokenService signs and verifies HS256 session tokens.
type tokenService struct {
	secret []byte
	expiry time.Duration
}

func newTokenService(secret string, expiry time.Duration) *tokenService {
	return &tokenService{secret: []byte(secret), expiry: expiry}
}

type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// generate issues a token for the user. A non-positive expiry issues tokens
// that never expire.
func (s *tokenService) generate(userID, name string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	c := claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// validate returns the user id a valid token was issued for.
func (s *tokenService) validate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", errInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return "", errInvalidToken
	}
	return c.Subject, nil
}
