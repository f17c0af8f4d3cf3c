// Package token issues and verifies the bearer credentials accepted by the API.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/pkg/apperr"
)

var (
	ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "invalid_token")
	ErrNoSecret     = errors.New("token signing secret is not configured")
)

// Manager signs and verifies HS256 bearer tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(cfg config.Config) *Manager {
	ttl := cfg.AuthJWTTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{
		secret: []byte(cfg.AuthJWTSecret),
		issuer: cfg.AuthJWTIssuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token whose subject is userID.
func (m *Manager) Issue(userID uuid.UUID) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify parses raw and returns the user it was issued for.
func (m *Manager) Verify(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(m.secret) == 0 {
		return uuid.Nil, ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}
