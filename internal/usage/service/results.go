package service

import (
	"context"
	"time"

	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	"go.uber.org/zap"
)

func newRecord(subject usagedomain.Subject, now time.Time) usagedomain.UsageRecord {
	now = now.UTC()
	return usagedomain.UsageRecord{
		SubjectKind:      subject.Kind,
		SubjectID:        subject.ID,
		LastResetDaily:   now,
		LastResetMonthly: now,
	}
}

func (s *Service) statsFor(subject usagedomain.Subject, tier usagedomain.Tier, limits usagedomain.Limits, rec usagedomain.UsageRecord, now time.Time) usagedomain.Stats {
	decision := usagedomain.Decide(rec, limits, now)
	return usagedomain.Stats{
		Subject:          subject,
		Tier:             tier,
		DailyUsed:        rec.DailyCount,
		DailyLimit:       limits.Daily,
		MonthlyUsed:      rec.MonthlyCount,
		MonthlyLimit:     limits.Monthly,
		TotalCount:       rec.TotalCount,
		CanUse:           decision.Allowed,
		DenyReason:       decision.Reason,
		NextDailyReset:   usagedomain.NextDailyReset(now),
		NextMonthlyReset: usagedomain.NextMonthlyReset(now),
	}
}

// finishAllowed assumes the increment, and the ledger row when a key
// was given, are already persisted.
func (s *Service) finishAllowed(ctx context.Context, req usagedomain.ConsumeRequest, limits usagedomain.Limits, rec usagedomain.UsageRecord, now time.Time) (*usagedomain.ConsumeResult, error) {
	s.metrics.RecordUsageAllowed(ctx, string(req.Subject.Kind), string(req.Tier))
	s.log.Info("usage consumed",
		zap.String("subject", req.Subject.Key()),
		zap.Int("daily_count", rec.DailyCount),
		zap.Int("monthly_count", rec.MonthlyCount),
	)

	return &usagedomain.ConsumeResult{
		Allowed: true,
		Stats:   s.statsFor(req.Subject, req.Tier, limits, rec, now),
	}, nil
}

func (s *Service) finishDenied(ctx context.Context, req usagedomain.ConsumeRequest, limits usagedomain.Limits, rec usagedomain.UsageRecord, decision usagedomain.Decision, now time.Time) (*usagedomain.ConsumeResult, error) {
	if req.IdempotencyKey != "" {
		_, _, err := s.repo.RecordConsumption(ctx, &usagedomain.UsageConsumption{
			SubjectKind:    req.Subject.Kind,
			SubjectID:      req.Subject.ID,
			IdempotencyKey: req.IdempotencyKey,
			Allowed:        false,
			Reason:         string(decision.Reason),
		})
		if err != nil {
			s.log.Warn("consumption ledger write failed",
				zap.String("subject", req.Subject.Key()),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordUsageDenied(ctx, string(req.Subject.Kind), string(req.Tier), string(decision.Reason))
	s.log.Info("usage denied",
		zap.String("subject", req.Subject.Key()),
		zap.String("reason", string(decision.Reason)),
	)

	return &usagedomain.ConsumeResult{
		Allowed: false,
		Reason:  decision.Reason,
		Stats:   s.statsFor(req.Subject, req.Tier, limits, rec, now),
	}, nil
}

// replayResult rebuilds a ConsumeResult from a ledger entry without
// touching counters.
func (s *Service) replayResult(ctx context.Context, req usagedomain.ConsumeRequest, limits usagedomain.Limits, prior *usagedomain.UsageConsumption) (*usagedomain.ConsumeResult, error) {
	now := s.clock.Now()
	rec, err := s.repo.Get(ctx, req.Subject)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		fresh := newRecord(req.Subject, now)
		rec = &fresh
	}
	view := *rec
	usagedomain.Rollover(&view, now)

	return &usagedomain.ConsumeResult{
		Allowed:      prior.Allowed,
		Reason:       usagedomain.DenyReason(prior.Reason),
		Deduplicated: true,
		Stats:        s.statsFor(req.Subject, req.Tier, limits, view, now),
	}, nil
}
