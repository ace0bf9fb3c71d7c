package domain

import (
	"context"
	"errors"
	"time"
)

// ConsumeRequest asks for one unit of usage for a subject.
type ConsumeRequest struct {
	Subject        Subject
	Tier           Tier
	IdempotencyKey string
}

// ReconcileRequest merges counters reported by a client with the
// server's durable state. Client counts can only raise the server's
// counters, never lower them.
type ReconcileRequest struct {
	Subject      Subject
	Tier         Tier
	DailyCount   int
	MonthlyCount int
	TotalCount   int64
}

// Stats is the subject's usage state as reported to clients.
type Stats struct {
	Subject          Subject    `json:"-"`
	Tier             Tier       `json:"tier"`
	DailyUsed        int        `json:"daily_used"`
	DailyLimit       int        `json:"daily_limit"`
	MonthlyUsed      int        `json:"monthly_used"`
	MonthlyLimit     int        `json:"monthly_limit"`
	TotalCount       int64      `json:"total_count"`
	CanUse           bool       `json:"can_use"`
	DenyReason       DenyReason `json:"deny_reason,omitempty"`
	NextDailyReset   time.Time  `json:"next_daily_reset"`
	NextMonthlyReset time.Time  `json:"next_monthly_reset"`
}

// ConsumeResult is the outcome of a consume attempt.
type ConsumeResult struct {
	Allowed      bool       `json:"allowed"`
	Reason       DenyReason `json:"reason,omitempty"`
	Deduplicated bool       `json:"deduplicated,omitempty"`
	Stats        Stats      `json:"stats"`
}

// Service meters try-on usage per subject.
type Service interface {
	// Consume attempts to spend one unit. It never overshoots the
	// subject's limits, retries transparently on write conflicts, and
	// deduplicates by idempotency key when one is supplied.
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)

	// Check reports current stats without consuming. Rollover is
	// computed in memory, the stored record is not modified.
	Check(ctx context.Context, subject Subject, tier Tier) (*Stats, error)

	// Reconcile merges client-reported counters monotonically and
	// returns the resulting stats.
	Reconcile(ctx context.Context, req ReconcileRequest) (*Stats, error)

	// Forget removes all usage state for a subject.
	Forget(ctx context.Context, subject Subject) error
}

var (
	ErrInvalidSubject  = errors.New("invalid_subject")
	ErrInvalidTier     = errors.New("invalid_tier")
	ErrVersionConflict = errors.New("usage_version_conflict")
	ErrConflict        = errors.New("usage_conflict")
)
