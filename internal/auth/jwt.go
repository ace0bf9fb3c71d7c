// Package auth issues and verifies the bearer tokens used by the
// mobile clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrTokenExpired = errors.New("token_expired")
)

// Claims carries the authenticated user identity.
type Claims struct {
	UserID string `json:"sub_id"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 access tokens.
type Manager struct {
	secret     []byte
	expMinutes int
	clock      clock.Clock
}

func NewManager(cfg config.Config, clk clock.Clock) (*Manager, error) {
	if cfg.AuthJWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Manager{
		secret:     []byte(cfg.AuthJWTSecret),
		expMinutes: cfg.AccessTokenMinutes,
		clock:      clk,
	}, nil
}

// Generate signs an access token for the user.
func (m *Manager) Generate(userID snowflake.ID) (string, int64, error) {
	now := m.clock.Now()
	exp := now.Add(time.Duration(m.expMinutes) * time.Minute)

	claims := &Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}
	return signed, int64(m.expMinutes) * 60, nil
}

// Verify parses an access token and returns its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserID parses the snowflake user ID out of verified claims.
func (c *Claims) SnowflakeID() (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.UserID)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}
