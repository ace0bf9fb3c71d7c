// Package domain holds the virtual try-on prediction model and the
// service boundary around the FASHN pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	"gorm.io/datatypes"
)

// Prediction statuses. They mirror what the upstream API reports so
// clients can poll without translation.
const (
	StatusStarting   = "starting"
	StatusInQueue    = "in_queue"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Prediction is one try-on submission and its last known state.
type Prediction struct {
	ID           snowflake.ID            `gorm:"primaryKey" json:"-"`
	PredictionID string                  `gorm:"type:text;not null;uniqueIndex" json:"id"`
	SubjectKind  usagedomain.SubjectKind `gorm:"type:text;not null;index:idx_tryon_predictions_subject" json:"-"`
	SubjectID    string                  `gorm:"type:text;not null;index:idx_tryon_predictions_subject" json:"-"`
	Status       string                  `gorm:"type:text;not null;default:starting" json:"status"`
	Output       datatypes.JSON          `gorm:"type:jsonb" json:"output,omitempty"`
	Error        string                  `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"-"`
}

func (Prediction) TableName() string { return "tryon_predictions" }

// Terminal reports whether the prediction will not change again.
func (p *Prediction) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// Subject returns the owner of the prediction.
func (p *Prediction) Subject() usagedomain.Subject {
	return usagedomain.Subject{Kind: p.SubjectKind, ID: p.SubjectID}
}
