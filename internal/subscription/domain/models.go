// Package domain models RevenueCat subscription events.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"gorm.io/datatypes"
)

// Event types RevenueCat delivers. Only entitlement-changing ones are
// acted on, everything else is recorded and acknowledged.
const (
	EventInitialPurchase     = "INITIAL_PURCHASE"
	EventRenewal             = "RENEWAL"
	EventUncancellation      = "UNCANCELLATION"
	EventNonRenewingPurchase = "NON_RENEWING_PURCHASE"
	EventCancellation        = "CANCELLATION"
	EventExpiration          = "EXPIRATION"
	EventBillingIssue        = "BILLING_ISSUE"
	EventProductChange       = "PRODUCT_CHANGE"
	EventTransfer            = "TRANSFER"
)

// WebhookEvent is the processed-events ledger, keyed by RevenueCat's
// event id for idempotent delivery.
type WebhookEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventID     string            `gorm:"type:text;not null;uniqueIndex"`
	EventType   string            `gorm:"type:text;not null"`
	AppUserID   string            `gorm:"type:text;not null;default:''"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	ProcessedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "subscription_webhook_events" }

// Subscription statuses for manually managed records.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

// Subscription is a manually managed entitlement record, used by
// clients whose purchases are not routed through RevenueCat.
type Subscription struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex" json:"-"`
	ProductID string       `gorm:"type:text;not null" json:"product_id"`
	Status    string       `gorm:"type:text;not null;default:'active'" json:"status"`
	StartedAt time.Time    `json:"started_at"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

type CreateSubscriptionRequest struct {
	UserID    snowflake.ID
	ProductID string
	ExpiresAt *time.Time
}

// WebhookPayload is RevenueCat's delivery envelope.
type WebhookPayload struct {
	APIVersion string       `json:"api_version"`
	Event      WebhookEventBody `json:"event"`
}

type WebhookEventBody struct {
	ID               string  `json:"id"`
	Type             string  `json:"type"`
	AppUserID        string  `json:"app_user_id"`
	ProductID        string  `json:"product_id"`
	PeriodType       string  `json:"period_type"`
	ExpirationAtMs   int64   `json:"expiration_at_ms"`
	PurchasedAtMs    int64   `json:"purchased_at_ms"`
	Store            string  `json:"store"`
	EnvironmentType  string  `json:"environment"`
	EntitlementIDs   []string `json:"entitlement_ids"`
}

// ProcessResult reports what a webhook delivery changed.
type ProcessResult struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Duplicate   bool   `json:"duplicate"`
	UserUpdated bool   `json:"user_updated"`
	Premium     bool   `json:"premium"`
}

// Service applies subscription state changes.
type Service interface {
	// ProcessWebhook verifies nothing; the transport layer already
	// checked the signature. It applies the event idempotently.
	ProcessWebhook(ctx context.Context, payload WebhookPayload) (*ProcessResult, error)

	// TierOf maps a user's entitlement to a usage tier. A nil user is
	// an anonymous device and always maps to the free tier.
	TierOf(user *userdomain.User) usagedomain.Tier

	// CreateSubscription records a manual purchase (one per user,
	// re-purchasing replaces it) and grants the premium entitlement.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)

	GetSubscription(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	// CancelSubscription marks the record cancelled and revokes the
	// premium entitlement.
	CancelSubscription(ctx context.Context, userID snowflake.ID) (*Subscription, error)
}

var (
	ErrMissingEventID       = errors.New("missing_event_id")
	ErrUnknownEvent         = errors.New("unknown_event_type")
	ErrMissingProductID     = errors.New("missing_product_id")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
