// Package domain holds push token and preference models and the
// notification service boundary.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Frequency controls how often a device receives headline pushes.
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	return f == FrequencyHourly || f == FrequencyDaily || f == FrequencyWeekly
}

// DeviceToken is one Expo push token. UserID is nil for anonymous
// devices.
type DeviceToken struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"-"`
	UserID     *snowflake.ID `gorm:"index" json:"-"`
	DeviceID   string        `gorm:"type:text" json:"device_id,omitempty"`
	Token      string        `gorm:"type:text;not null;uniqueIndex" json:"token"`
	Platform   string        `gorm:"type:text;not null;default:''" json:"platform,omitempty"`
	IsActive   bool          `gorm:"not null;default:true" json:"is_active"`
	LastUsedAt time.Time     `gorm:"not null" json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"-"`
}

func (DeviceToken) TableName() string { return "device_tokens" }

// Preference is the per-device notification settings row.
type Preference struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"-"`
	DeviceTokenID snowflake.ID   `gorm:"not null;uniqueIndex:uq_notification_preferences_token" json:"-"`
	Frequency     Frequency      `gorm:"type:text;not null;default:daily" json:"frequency"`
	Enabled       bool           `gorm:"not null;default:true" json:"enabled"`
	Categories    datatypes.JSON `gorm:"type:jsonb" json:"categories,omitempty"`
	CreatedAt     time.Time      `json:"-"`
	UpdatedAt     time.Time      `json:"-"`
}

func (Preference) TableName() string { return "notification_preferences" }
