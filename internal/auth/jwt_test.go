package auth

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
)

func newTestManager(t *testing.T, fc *clock.FakeClock) *Manager {
	t.Helper()
	cfg := config.Config{AuthJWTSecret: "test-secret", AccessTokenMinutes: 30}
	m, err := NewManager(cfg, fc)
	require.NoError(t, err)
	return m
}

func TestGenerateAndVerify(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, fc)

	token, expiresIn, err := m.Generate(snowflake.ID(42))
	require.NoError(t, err)
	assert.Equal(t, int64(1800), expiresIn)

	claims, err := m.Verify(token)
	require.NoError(t, err)

	id, err := claims.SnowflakeID()
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), id)
}

func TestVerifyExpiredToken(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, fc)

	token, _, err := m.Generate(snowflake.ID(42))
	require.NoError(t, err)

	fc.Advance(31 * time.Minute)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, fc)

	_, err := m.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, fc)

	other, err := NewManager(config.Config{AuthJWTSecret: "other", AccessTokenMinutes: 30}, fc)
	require.NoError(t, err)

	token, _, err := other.Generate(snowflake.ID(42))
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManagerRequiresSecret(t *testing.T) {
	fc := clock.NewFakeClock(time.Now())
	_, err := NewManager(config.Config{}, fc)
	assert.Error(t, err)
}
