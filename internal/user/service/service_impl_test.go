package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/auth"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	usagerepo "github.com/velra-app/velra/internal/usage/repository"
	usageservice "github.com/velra-app/velra/internal/usage/service"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type capturingEmail struct {
	to      []string
	subject string
	body    string
}

func (c *capturingEmail) Send(_ context.Context, to []string, subject, body string) error {
	c.to = to
	c.subject = subject
	c.body = body
	return nil
}

type userFixture struct {
	svc   userdomain.Service
	usage usagedomain.Service
	email *capturingEmail
	clock *clock.FakeClock
	db    *gorm.DB
}

func newFixture(t *testing.T) *userFixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "users.db")
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&userdomain.User{},
		&userdomain.PasswordResetToken{},
		&usagedomain.UsageRecord{},
		&usagedomain.UsageConsumption{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	limits := config.NewStaticLimitsHolder(config.DefaultLimitsConfig())

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		Repo:   usagerepo.New(conn, node),
		Log:    zap.NewNop(),
		Clock:  fc,
		Limits: limits,
	})

	tokens, err := auth.NewManager(config.Config{AuthJWTSecret: "secret", AccessTokenMinutes: 30}, fc)
	require.NoError(t, err)

	mail := &capturingEmail{}
	svc := NewService(ServiceParam{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fc,
		Tokens: tokens,
		Email:  mail,
		Config: config.Config{FrontendURL: "https://app.velra.io"},
		Limits: limits,
		Usage:  usageSvc,
	})

	return &userFixture{svc: svc, usage: usageSvc, email: mail, clock: fc, db: conn}
}

func register(t *testing.T, f *userFixture) *userdomain.User {
	t.Helper()
	res, err := f.svc.Register(context.Background(), userdomain.RegisterRequest{
		Email:    "jane@example.com",
		Username: "jane",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	return res.User
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	assert.Equal(t, "jane@example.com", user.Email)
	assert.False(t, user.IsPremium)
	assert.Equal(t, userdomain.SubscriptionFree, user.SubscriptionType)

	res, err := f.svc.Login(context.Background(), userdomain.LoginRequest{
		Email:    "Jane@Example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "bearer", res.TokenType)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	register(t, f)

	_, err := f.svc.Register(context.Background(), userdomain.RegisterRequest{
		Email:    "jane@example.com",
		Username: "other",
		Password: "correct-horse",
	})
	assert.ErrorIs(t, err, userdomain.ErrEmailTaken)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), userdomain.RegisterRequest{
		Email:    "jane@example.com",
		Password: "short",
	})
	assert.ErrorIs(t, err, userdomain.ErrWeakPassword)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	register(t, f)

	_, err := f.svc.Login(context.Background(), userdomain.LoginRequest{
		Email:    "jane@example.com",
		Password: "wrong",
	})
	assert.ErrorIs(t, err, userdomain.ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), userdomain.LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever",
	})
	assert.ErrorIs(t, err, userdomain.ErrInvalidCredentials)
}

func TestSetPremium(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	updated, err := f.svc.SetPremium(context.Background(), user.ID, true, userdomain.SubscriptionMonthly)
	require.NoError(t, err)
	assert.True(t, updated.IsPremium)
	assert.Equal(t, userdomain.SubscriptionMonthly, updated.SubscriptionType)

	updated, err = f.svc.SetPremium(context.Background(), user.ID, false, userdomain.SubscriptionFree)
	require.NoError(t, err)
	assert.False(t, updated.IsPremium)
}

func TestLinkRevenueCat(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	linked, err := f.svc.LinkRevenueCat(context.Background(), user.ID, "rc-abc")
	require.NoError(t, err)
	require.NotNil(t, linked.RevenueCatAppUserID)
	assert.Equal(t, "rc-abc", *linked.RevenueCatAppUserID)

	found, err := f.svc.GetByRevenueCatAppUserID(context.Background(), "rc-abc")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = f.svc.GetByRevenueCatAppUserID(context.Background(), "rc-unknown")
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func TestConsumeInsightsRequestCapsFreeUsers(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	for i := 0; i < 3; i++ {
		_, err := f.svc.ConsumeInsightsRequest(context.Background(), user.ID)
		require.NoError(t, err, "request %d", i)
	}

	_, err := f.svc.ConsumeInsightsRequest(context.Background(), user.ID)
	assert.ErrorIs(t, err, userdomain.ErrInsightsLimit)
}

func TestConsumeInsightsRequestUnlimitedForPremium(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)
	_, err := f.svc.SetPremium(context.Background(), user.ID, true, userdomain.SubscriptionYearly)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := f.svc.ConsumeInsightsRequest(context.Background(), user.ID)
		require.NoError(t, err)
	}

	fetched, err := f.svc.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fetched.InsightsRequestCount)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "jane@example.com"))
	require.NotEmpty(t, f.email.body)

	var reset userdomain.PasswordResetToken
	require.NoError(t, f.db.Where("user_id = ?", user.ID).First(&reset).Error)

	require.NoError(t, f.svc.ResetPassword(context.Background(), reset.Token, "new-password-1"))

	_, err := f.svc.Login(context.Background(), userdomain.LoginRequest{
		Email:    "jane@example.com",
		Password: "new-password-1",
	})
	require.NoError(t, err)

	// Single use.
	err = f.svc.ResetPassword(context.Background(), reset.Token, "another-pass-2")
	assert.ErrorIs(t, err, userdomain.ErrResetTokenInvalid)
}

func TestPasswordResetExpiredToken(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "jane@example.com"))

	var reset userdomain.PasswordResetToken
	require.NoError(t, f.db.Where("user_id = ?", user.ID).First(&reset).Error)

	f.clock.Advance(2 * time.Hour)
	err := f.svc.ResetPassword(context.Background(), reset.Token, "new-password-1")
	assert.ErrorIs(t, err, userdomain.ErrResetTokenInvalid)
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "nobody@example.com"))
	assert.Empty(t, f.email.body)
}

func TestDeleteRemovesUsageState(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	subject := usagedomain.UserSubject(user.ID)
	_, err := f.usage.Consume(context.Background(), usagedomain.ConsumeRequest{
		Subject: subject,
		Tier:    usagedomain.TierFree,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), user.ID))

	_, err = f.svc.GetByID(context.Background(), user.ID)
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)

	stats, err := f.usage.Check(context.Background(), subject, usagedomain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCount)
}

func TestSocialSignInCreatesAccount(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SocialSignIn(context.Background(), userdomain.SocialSignInRequest{
		Provider: "google",
		Subject:  "google-sub-1",
		Email:    "New.User@Example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)

	assert.Equal(t, "new.user@example.com", res.User.Email)
	assert.Equal(t, "new.user", res.User.Username)
	assert.True(t, res.User.IsActive)
	require.NotNil(t, res.User.LastLoginAt)
}

func TestSocialSignInExistingAccount(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)

	f.clock.Advance(time.Hour)

	res, err := f.svc.SocialSignIn(context.Background(), userdomain.SocialSignInRequest{
		Provider: "apple",
		Subject:  "apple-sub-1",
		Email:    "jane@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, user.ID, res.User.ID)
	require.NotNil(t, res.User.LastLoginAt)
	assert.Equal(t, f.clock.Now(), res.User.LastLoginAt.UTC())
}

func TestSocialSignInInactiveAccount(t *testing.T) {
	f := newFixture(t)
	user := register(t, f)
	require.NoError(t, f.db.Model(&userdomain.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)

	_, err := f.svc.SocialSignIn(context.Background(), userdomain.SocialSignInRequest{
		Provider: "google",
		Subject:  "google-sub-2",
		Email:    "jane@example.com",
	})
	require.ErrorIs(t, err, userdomain.ErrUserInactive)
}

func TestSocialSignInRejectsBadEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SocialSignIn(context.Background(), userdomain.SocialSignInRequest{
		Provider: "google",
		Subject:  "google-sub-3",
		Email:    "not-an-email",
	})
	require.ErrorIs(t, err, userdomain.ErrInvalidEmail)
}
