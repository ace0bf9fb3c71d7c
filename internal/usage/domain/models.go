// Package domain contains the persistence models and decision logic
// for per-subject try-on usage metering.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubjectKind distinguishes authenticated users from anonymous devices.
type SubjectKind string

const (
	SubjectUser   SubjectKind = "user"
	SubjectDevice SubjectKind = "device"
)

// Subject identifies the owner of a usage record.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// Key renders the canonical "kind:id" form used in logs and cache keys.
func (s Subject) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// Valid reports whether the subject is well formed.
func (s Subject) Valid() bool {
	if strings.TrimSpace(s.ID) == "" {
		return false
	}
	return s.Kind == SubjectUser || s.Kind == SubjectDevice
}

// UserSubject builds a subject for an authenticated user.
func UserSubject(id snowflake.ID) Subject {
	return Subject{Kind: SubjectUser, ID: id.String()}
}

// DeviceSubject builds a subject for an anonymous device.
func DeviceSubject(deviceID string) Subject {
	return Subject{Kind: SubjectDevice, ID: strings.TrimSpace(deviceID)}
}

// UsageRecord is the durable counter state for one subject.
//
// Version implements optimistic concurrency: every successful write
// increments it, and writers compare against the version they read.
type UsageRecord struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	SubjectKind      SubjectKind  `gorm:"type:text;not null;uniqueIndex:uq_usage_records_subject"`
	SubjectID        string       `gorm:"type:text;not null;uniqueIndex:uq_usage_records_subject"`
	DailyCount       int          `gorm:"not null;default:0"`
	MonthlyCount     int          `gorm:"not null;default:0"`
	TotalCount       int64        `gorm:"not null;default:0"`
	LastResetDaily   time.Time    `gorm:"not null"`
	LastResetMonthly time.Time    `gorm:"not null"`
	LastUsedAt       *time.Time
	Version          int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// Subject returns the record's owning subject.
func (r UsageRecord) Subject() Subject {
	return Subject{Kind: r.SubjectKind, ID: r.SubjectID}
}

// UsageConsumption is the append-only ledger of consume decisions,
// keyed by caller-supplied idempotency keys.
type UsageConsumption struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubjectKind    SubjectKind  `gorm:"type:text;not null;uniqueIndex:uq_usage_consumptions_key"`
	SubjectID      string       `gorm:"type:text;not null;uniqueIndex:uq_usage_consumptions_key"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:uq_usage_consumptions_key"`
	Allowed        bool         `gorm:"not null"`
	Reason         string       `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageConsumption) TableName() string { return "usage_consumptions" }
