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
	"github.com/velra-app/velra/internal/providers/email"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	usagerepo "github.com/velra-app/velra/internal/usage/repository"
	usageservice "github.com/velra-app/velra/internal/usage/service"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	userservice "github.com/velra-app/velra/internal/user/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	subs  subscriptiondomain.Service
	users userdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "subs.db")
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&userdomain.User{},
		&userdomain.PasswordResetToken{},
		&usagedomain.UsageRecord{},
		&usagedomain.UsageConsumption{},
		&subscriptiondomain.WebhookEvent{},
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(3)
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

	users := userservice.NewService(userservice.ServiceParam{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fc,
		Tokens: tokens,
		Email:  &email.NoOpProvider{},
		Limits: limits,
		Usage:  usageSvc,
	})

	subs := NewService(ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Users: users,
	})

	return &fixture{subs: subs, users: users}
}

func linkedUser(t *testing.T, f *fixture) *userdomain.User {
	t.Helper()
	res, err := f.users.Register(context.Background(), userdomain.RegisterRequest{
		Email:    "jane@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	user, err := f.users.LinkRevenueCat(context.Background(), res.User.ID, "rc-jane")
	require.NoError(t, err)
	return user
}

func event(id, typ, appUserID, productID string) subscriptiondomain.WebhookPayload {
	return subscriptiondomain.WebhookPayload{
		APIVersion: "1.0",
		Event: subscriptiondomain.WebhookEventBody{
			ID:        id,
			Type:      typ,
			AppUserID: appUserID,
			ProductID: productID,
		},
	}
}

func TestInitialPurchaseGrantsPremium(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	res, err := f.subs.ProcessWebhook(context.Background(), event("e1", subscriptiondomain.EventInitialPurchase, "rc-jane", "velra_premium_yearly"))
	require.NoError(t, err)

	assert.True(t, res.UserUpdated)
	assert.True(t, res.Premium)

	fetched, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, fetched.IsPremium)
	assert.Equal(t, userdomain.SubscriptionYearly, fetched.SubscriptionType)
}

func TestExpirationRevokesPremium(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	_, err := f.subs.ProcessWebhook(context.Background(), event("e1", subscriptiondomain.EventInitialPurchase, "rc-jane", "velra_premium_monthly"))
	require.NoError(t, err)

	_, err = f.subs.ProcessWebhook(context.Background(), event("e2", subscriptiondomain.EventExpiration, "rc-jane", "velra_premium_monthly"))
	require.NoError(t, err)

	fetched, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsPremium)
	assert.Equal(t, userdomain.SubscriptionFree, fetched.SubscriptionType)
}

func TestDuplicateEventIsNotReapplied(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	first, err := f.subs.ProcessWebhook(context.Background(), event("e1", subscriptiondomain.EventInitialPurchase, "rc-jane", "velra_premium_monthly"))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// Revoke, then replay the old grant. The replay must not restore premium.
	_, err = f.subs.ProcessWebhook(context.Background(), event("e2", subscriptiondomain.EventCancellation, "rc-jane", "velra_premium_monthly"))
	require.NoError(t, err)

	replay, err := f.subs.ProcessWebhook(context.Background(), event("e1", subscriptiondomain.EventInitialPurchase, "rc-jane", "velra_premium_monthly"))
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)

	fetched, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsPremium)
}

func TestUnknownAppUserIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	res, err := f.subs.ProcessWebhook(context.Background(), event("e1", subscriptiondomain.EventRenewal, "rc-stranger", "velra_premium_monthly"))
	require.NoError(t, err)
	assert.False(t, res.UserUpdated)
}

func TestNonEntitlementEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	res, err := f.subs.ProcessWebhook(context.Background(), event("e1", subscriptiondomain.EventTransfer, "rc-jane", ""))
	require.NoError(t, err)
	assert.False(t, res.UserUpdated)

	fetched, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsPremium)
}

func TestMissingEventID(t *testing.T) {
	f := newFixture(t)

	_, err := f.subs.ProcessWebhook(context.Background(), event("", subscriptiondomain.EventRenewal, "rc-jane", ""))
	assert.ErrorIs(t, err, subscriptiondomain.ErrMissingEventID)
}

func TestTierOf(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, usagedomain.TierFree, f.subs.TierOf(nil))
	assert.Equal(t, usagedomain.TierFree, f.subs.TierOf(&userdomain.User{}))
	assert.Equal(t, usagedomain.TierSubscribed, f.subs.TierOf(&userdomain.User{IsPremium: true}))
}

func TestManualSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	sub, err := f.subs.CreateSubscription(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		UserID:    user.ID,
		ProductID: "velra_premium_yearly",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)

	fetched, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, fetched.IsPremium)
	assert.Equal(t, userdomain.SubscriptionYearly, fetched.SubscriptionType)

	got, err := f.subs.GetSubscription(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	cancelled, err := f.subs.CancelSubscription(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, cancelled.Status)

	fetched, err = f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsPremium)
}

func TestCreateSubscriptionReplacesExisting(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	first, err := f.subs.CreateSubscription(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		UserID:    user.ID,
		ProductID: "velra_premium_monthly",
	})
	require.NoError(t, err)

	second, err := f.subs.CreateSubscription(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		UserID:    user.ID,
		ProductID: "velra_premium_yearly",
	})
	require.NoError(t, err)

	// One record per user; a re-purchase replaces it in place.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "velra_premium_yearly", second.ProductID)
	assert.Equal(t, subscriptiondomain.StatusActive, second.Status)
}

func TestCreateSubscriptionRequiresProduct(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	_, err := f.subs.CreateSubscription(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		UserID: user.ID,
	})
	require.ErrorIs(t, err, subscriptiondomain.ErrMissingProductID)
}

func TestSubscriptionNotFound(t *testing.T) {
	f := newFixture(t)
	user := linkedUser(t, f)

	_, err := f.subs.GetSubscription(context.Background(), user.ID)
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.subs.CancelSubscription(context.Background(), user.ID)
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}
