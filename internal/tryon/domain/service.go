package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	usagedomain "github.com/velra-app/velra/internal/usage/domain"
)

// StartRequest submits one try-on for a metered subject.
type StartRequest struct {
	Subject        usagedomain.Subject
	Tier           usagedomain.Tier
	ModelImage     []byte
	GarmentImage   []byte
	Category       string
	IdempotencyKey string
}

// StartResult pairs the created prediction with the usage state the
// consume left behind.
type StartResult struct {
	Prediction *Prediction       `json:"prediction"`
	Usage      usagedomain.Stats `json:"usage"`
}

// Service runs the try-on pipeline. A unit of usage is consumed before
// any upstream call is made, so a denied subject never burns provider
// quota.
type Service interface {
	Start(ctx context.Context, req StartRequest) (*StartResult, error)

	// Status returns the prediction's state, polling upstream until a
	// terminal status has been stored.
	Status(ctx context.Context, predictionID string) (*Prediction, error)

	// Usage reports the subject's current metering state without
	// consuming.
	Usage(ctx context.Context, subject usagedomain.Subject, tier usagedomain.Tier) (*usagedomain.Stats, error)
}

var (
	ErrPredictionNotFound = errors.New("prediction_not_found")
	ErrMissingImages      = errors.New("tryon_missing_images")
	ErrLimitReached       = errors.New("tryon_limit_reached")
	ErrRateLimited        = errors.New("tryon_rate_limited")
)

// DeniedError carries the deny reason and usage snapshot for a
// rejected start.
type DeniedError struct {
	Reason usagedomain.DenyReason
	Stats  usagedomain.Stats
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("try-on denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrLimitReached }

// RateLimitedError reports throttling before metering was consulted.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("try-on rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
