// Package domain contains the account models and service contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionType mirrors the store-facing product identifiers.
type SubscriptionType string

const (
	SubscriptionFree    SubscriptionType = "free"
	SubscriptionMonthly SubscriptionType = "monthly"
	SubscriptionYearly  SubscriptionType = "yearly"
)

// User is an account holder.
type User struct {
	ID                   snowflake.ID     `gorm:"primaryKey"`
	Email                string           `gorm:"type:text;not null;uniqueIndex"`
	Username             string           `gorm:"type:text;not null;uniqueIndex"`
	HashedPassword       string           `gorm:"type:text;not null;default:''"`
	IsActive             bool             `gorm:"not null;default:true"`
	IsPremium            bool             `gorm:"not null;default:false"`
	SubscriptionType     SubscriptionType `gorm:"type:text;not null;default:'free'"`
	RevenueCatAppUserID  *string          `gorm:"type:text;uniqueIndex"`
	InsightsRequestCount int              `gorm:"not null;default:0"`
	LastLoginAt          *time.Time
	CreatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// PasswordResetToken is a single-use reset credential.
type PasswordResetToken struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"not null;index"`
	Token     string       `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time    `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PasswordResetToken) TableName() string { return "password_reset_tokens" }
