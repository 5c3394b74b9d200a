package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type identityClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens whose subject is the user id.
type JWTProvider struct {
	secretKey []byte
	maxAge    time.Duration
}

var _ Provider = (*JWTProvider)(nil)

func NewJWTProvider(secretKey string, maxAge time.Duration) *JWTProvider {
	return &JWTProvider{
		secretKey: []byte(secretKey),
		maxAge:    maxAge,
	}
}

// Issue signs a token for id. It backs the development sign-in route.
func (p *JWTProvider) Issue(id Identity, now time.Time) (string, error) {
	if len(p.secretKey) == 0 {
		return "", ErrProviderNotConfigured
	}
	claims := identityClaims{
		Name:  id.DisplayName,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.maxAge)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (p *JWTProvider) Verify(_ context.Context, token string) (Identity, error) {
	if len(p.secretKey) == 0 {
		return Identity{}, ErrProviderNotConfigured
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &identityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningAlg
		}
		return p.secretKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSigningAlg):
			return Identity{}, err
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrExpiredToken
		default:
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}

	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UID:         claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}, nil
}
