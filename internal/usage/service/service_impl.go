// Package service implements the usage metering service.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	obsmetrics "github.com/velra-app/velra/internal/observability/metrics"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	"github.com/velra-app/velra/internal/usage/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxApplyRetries bounds the optimistic-concurrency retry loop. Three
// attempts absorbs transient write races without unbounded spinning.
const maxApplyRetries = 3

type ServiceParam struct {
	fx.In

	Repo    repository.Repository
	Log     *zap.Logger
	Clock   clock.Clock
	Limits  *config.LimitsHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	repo    repository.Repository
	log     *zap.Logger
	clock   clock.Clock
	limits  *config.LimitsHolder
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		repo:    p.Repo,
		log:     p.Log.Named("usage.service"),
		clock:   p.Clock,
		limits:  p.Limits,
		metrics: p.Metrics,
	}
}

func (s *Service) Consume(ctx context.Context, req usagedomain.ConsumeRequest) (*usagedomain.ConsumeResult, error) {
	if !req.Subject.Valid() {
		return nil, usagedomain.ErrInvalidSubject
	}
	limits, err := s.limitsFor(req.Tier)
	if err != nil {
		return nil, err
	}

	// Replays return the original decision as-is, even if limits or
	// counters have since moved.
	if req.IdempotencyKey != "" {
		prior, err := s.repo.FindConsumption(ctx, req.Subject, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return s.replayResult(ctx, req, limits, prior)
		}
	}

	now := s.clock.Now()

	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		rec, err := s.loadOrCreate(ctx, req.Subject, now)
		if err != nil {
			return nil, err
		}

		decision := usagedomain.Decide(*rec, limits, now)

		if !decision.Allowed {
			// Persist the rollover so stored counters match what the
			// subject was told. A lost race here only means another
			// writer already refreshed the row.
			if decision.DailyReset || decision.MonthlyReset {
				usagedomain.Rollover(rec, now)
				if err := s.repo.Apply(ctx, rec); err != nil && !errors.Is(err, usagedomain.ErrVersionConflict) {
					return nil, err
				}
			}
			return s.finishDenied(ctx, req, limits, *rec, decision, now)
		}

		usagedomain.Rollover(rec, now)
		rec.DailyCount++
		rec.MonthlyCount++
		rec.TotalCount++
		used := now
		rec.LastUsedAt = &used

		if req.IdempotencyKey == "" {
			if err := s.repo.Apply(ctx, rec); err != nil {
				if errors.Is(err, usagedomain.ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			return s.finishAllowed(ctx, req, limits, *rec, now)
		}

		// The increment and the ledger row must land together, or a
		// crash between them lets a client retry spend twice.
		stored, inserted, err := s.repo.ApplyRecorded(ctx, rec, &usagedomain.UsageConsumption{
			SubjectKind:    req.Subject.Kind,
			SubjectID:      req.Subject.ID,
			IdempotencyKey: req.IdempotencyKey,
			Allowed:        true,
		})
		if err != nil {
			if errors.Is(err, usagedomain.ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		if !inserted {
			// A concurrent call holding the same key landed first. Its
			// decision stands and this attempt spent nothing.
			return s.replayResult(ctx, req, limits, stored)
		}
		return s.finishAllowed(ctx, req, limits, *rec, now)
	}

	s.log.Warn("consume exhausted retries", zap.String("subject", req.Subject.Key()))
	return nil, usagedomain.ErrConflict
}

func (s *Service) Check(ctx context.Context, subject usagedomain.Subject, tier usagedomain.Tier) (*usagedomain.Stats, error) {
	if !subject.Valid() {
		return nil, usagedomain.ErrInvalidSubject
	}
	limits, err := s.limitsFor(tier)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rec, err := s.repo.Get(ctx, subject)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		fresh := newRecord(subject, now)
		rec = &fresh
	}

	// Rollover applies to the in-memory copy only.
	view := *rec
	usagedomain.Rollover(&view, now)
	stats := s.statsFor(subject, tier, limits, view, now)
	return &stats, nil
}

func (s *Service) Reconcile(ctx context.Context, req usagedomain.ReconcileRequest) (*usagedomain.Stats, error) {
	if !req.Subject.Valid() {
		return nil, usagedomain.ErrInvalidSubject
	}
	limits, err := s.limitsFor(req.Tier)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		rec, err := s.loadOrCreate(ctx, req.Subject, now)
		if err != nil {
			return nil, err
		}

		usagedomain.Rollover(rec, now)

		// Monotonic merge: client counters only ever raise the stored
		// ones, and never past the tier limits. Stale or replayed
		// reports cannot roll usage back; inflated ones cannot push a
		// window over its cap.
		changed := false
		if v := min(req.DailyCount, limits.Daily); v > rec.DailyCount {
			rec.DailyCount = v
			changed = true
		}
		if v := min(req.MonthlyCount, limits.Monthly); v > rec.MonthlyCount {
			rec.MonthlyCount = v
			changed = true
		}
		if req.TotalCount > rec.TotalCount {
			rec.TotalCount = req.TotalCount
			changed = true
		}

		if changed {
			if err := s.repo.Apply(ctx, rec); err != nil {
				if errors.Is(err, usagedomain.ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			s.log.Info("usage reconciled",
				zap.String("subject", req.Subject.Key()),
				zap.Int("daily_count", rec.DailyCount),
				zap.Int("monthly_count", rec.MonthlyCount),
				zap.Int64("total_count", rec.TotalCount),
			)
		}

		stats := s.statsFor(req.Subject, req.Tier, limits, *rec, now)
		return &stats, nil
	}

	return nil, usagedomain.ErrConflict
}

func (s *Service) Forget(ctx context.Context, subject usagedomain.Subject) error {
	if !subject.Valid() {
		return usagedomain.ErrInvalidSubject
	}
	return s.repo.DeleteSubject(ctx, subject)
}

func (s *Service) loadOrCreate(ctx context.Context, subject usagedomain.Subject, now time.Time) (*usagedomain.UsageRecord, error) {
	rec, err := s.repo.Get(ctx, subject)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	fresh := newRecord(subject, now)
	return s.repo.CreateIfAbsent(ctx, &fresh)
}

func (s *Service) limitsFor(tier usagedomain.Tier) (usagedomain.Limits, error) {
	cfg := s.limits.Get()
	switch tier {
	case usagedomain.TierFree:
		return usagedomain.Limits{Daily: cfg.Free.DailyLimit, Monthly: cfg.Free.MonthlyLimit}, nil
	case usagedomain.TierSubscribed:
		return usagedomain.Limits{Daily: cfg.Subscribed.DailyLimit, Monthly: cfg.Subscribed.MonthlyLimit}, nil
	default:
		return usagedomain.Limits{}, usagedomain.ErrInvalidTier
	}
}
