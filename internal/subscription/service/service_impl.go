// Package service applies subscription state to user accounts, from
// RevenueCat webhook events and manually managed records.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/internal/clock"
	obsmetrics "github.com/velra-app/velra/internal/observability/metrics"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"github.com/velra-app/velra/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Users   userdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	users   userdomain.Service
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		users:   p.Users,
		metrics: p.Metrics,
	}
}

func (s *Service) ProcessWebhook(ctx context.Context, payload subscriptiondomain.WebhookPayload) (*subscriptiondomain.ProcessResult, error) {
	event := payload.Event
	if strings.TrimSpace(event.ID) == "" {
		return nil, subscriptiondomain.ErrMissingEventID
	}

	record := &subscriptiondomain.WebhookEvent{
		ID:          s.genID.Generate(),
		EventID:     event.ID,
		EventType:   event.Type,
		AppUserID:   event.AppUserID,
		ProcessedAt: s.clock.Now(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil && !db.IsDuplicateKeyErr(res.Error) {
		return nil, res.Error
	}
	if res.Error == nil && res.RowsAffected == 0 || db.IsDuplicateKeyErr(res.Error) {
		// Redelivery of an event we already applied.
		return &subscriptiondomain.ProcessResult{
			EventID:   event.ID,
			EventType: event.Type,
			Duplicate: true,
		}, nil
	}

	s.metrics.RecordWebhookEvent(ctx, "revenuecat", event.Type)

	premium, actionable := premiumForEvent(event.Type)
	result := &subscriptiondomain.ProcessResult{
		EventID:   event.ID,
		EventType: event.Type,
		Premium:   premium,
	}
	if !actionable {
		s.log.Info("webhook event ignored",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return result, nil
	}

	user, err := s.users.GetByRevenueCatAppUserID(ctx, event.AppUserID)
	if err != nil {
		// Unknown subscribers are acknowledged so RevenueCat stops
		// retrying; the link endpoint will catch the account up later.
		s.log.Warn("webhook for unknown app user",
			zap.String("event_id", event.ID),
			zap.String("app_user_id", event.AppUserID),
			zap.Error(err),
		)
		return result, nil
	}

	subType := subscriptionTypeForProduct(event.ProductID)
	if !premium {
		subType = userdomain.SubscriptionFree
	}
	if _, err := s.users.SetPremium(ctx, user.ID, premium, subType); err != nil {
		return nil, err
	}

	result.UserUpdated = true
	s.log.Info("webhook applied",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("user_id", user.ID.String()),
		zap.Bool("premium", premium),
	)
	return result, nil
}

func (s *Service) CreateSubscription(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, subscriptiondomain.ErrMissingProductID
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		ProductID: productID,
		Status:    subscriptiondomain.StatusActive,
		StartedAt: now,
		ExpiresAt: req.ExpiresAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_id", "status", "started_at", "expires_at", "updated_at"}),
		}).
		Create(sub).Error
	if err != nil {
		return nil, err
	}
	// Read back so a replaced record keeps its original id.
	if err := s.db.WithContext(ctx).Where("user_id = ?", req.UserID).First(sub).Error; err != nil {
		return nil, err
	}

	if _, err := s.users.SetPremium(ctx, req.UserID, true, subscriptionTypeForProduct(productID)); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("user_id", req.UserID.String()),
		zap.String("product_id", productID),
	)
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) CancelSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Model(sub).
		Updates(map[string]any{
			"status":     subscriptiondomain.StatusCancelled,
			"updated_at": s.clock.Now(),
		}).Error
	if err != nil {
		return nil, err
	}
	sub.Status = subscriptiondomain.StatusCancelled

	if _, err := s.users.SetPremium(ctx, userID, false, userdomain.SubscriptionFree); err != nil {
		return nil, err
	}

	s.log.Info("subscription cancelled", zap.String("user_id", userID.String()))
	return sub, nil
}

func (s *Service) TierOf(user *userdomain.User) usagedomain.Tier {
	if user != nil && user.IsPremium {
		return usagedomain.TierSubscribed
	}
	return usagedomain.TierFree
}

// premiumForEvent returns the entitlement a type implies and whether
// the type changes entitlement at all.
func premiumForEvent(eventType string) (premium, actionable bool) {
	switch eventType {
	case subscriptiondomain.EventInitialPurchase,
		subscriptiondomain.EventRenewal,
		subscriptiondomain.EventUncancellation,
		subscriptiondomain.EventNonRenewingPurchase:
		return true, true
	case subscriptiondomain.EventCancellation,
		subscriptiondomain.EventExpiration,
		subscriptiondomain.EventBillingIssue:
		return false, true
	default:
		return false, false
	}
}

func subscriptionTypeForProduct(productID string) userdomain.SubscriptionType {
	productID = strings.ToLower(productID)
	switch {
	case strings.Contains(productID, "year") || strings.Contains(productID, "annual"):
		return userdomain.SubscriptionYearly
	default:
		return userdomain.SubscriptionMonthly
	}
}
