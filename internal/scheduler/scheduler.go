// Package scheduler drives the periodic background jobs: headline
// refresh, push notification fanouts, and store cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	newsdomain "github.com/velra-app/velra/internal/news/domain"
	notificationdomain "github.com/velra-app/velra/internal/notification/domain"
	"github.com/velra-app/velra/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobTimeout = 2 * time.Minute

	headlineRetention = 30 * 24 * time.Hour
	tokenIdleCutoff   = 90 * 24 * time.Hour

	notifyHourUTC = 9
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Config        config.Config
	Locker        *ratelimit.Locker `optional:"true"`
	News          newsdomain.Service
	Notifications notificationdomain.Service
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	cfg           config.SchedulerConfig
	locker        *ratelimit.Locker
	news          newsdomain.Service
	notifications notificationdomain.Service

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.News == nil || p.Notifications == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:         p.Clock,
		cfg:           p.Config.Scheduler,
		locker:        p.Locker,
		news:          p.News,
		notifications: p.Notifications,
		lastRun:       make(map[string]time.Time),
	}, nil
}

// RunOnce evaluates every job's schedule against the clock and runs
// the ones that are due.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now().UTC()

	jobs := []struct {
		Name string
		Due  func(last time.Time) bool
		Run  func(context.Context) error
	}{
		{"refresh_headlines", func(last time.Time) bool { return dueHourly(now, last) }, s.RefreshHeadlinesJob},
		{"notify_hourly", func(last time.Time) bool { return dueHourly(now, last) }, func(ctx context.Context) error {
			return s.notifyJob(ctx, notificationdomain.FrequencyHourly)
		}},
		{"notify_daily", func(last time.Time) bool { return dueDaily(now, last) }, func(ctx context.Context) error {
			return s.notifyJob(ctx, notificationdomain.FrequencyDaily)
		}},
		{"notify_weekly", func(last time.Time) bool { return dueWeekly(now, last) }, func(ctx context.Context) error {
			return s.notifyJob(ctx, notificationdomain.FrequencyWeekly)
		}},
		{"cleanup", func(last time.Time) bool { return dueAtMidnight(now, last) }, s.CleanupJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if !job.Due(s.last(job.Name)) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

// RunForever runs jobs on the configured interval until ctx ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := time.Duration(s.cfg.RunIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	lockKey := "scheduler:lock:" + name
	lockTTL := time.Duration(s.cfg.LockTTLSecs) * time.Second
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	token, acquired, err := s.locker.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		s.log.Warn("job lock unavailable", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !acquired {
		// Another instance holds the job, record the slot as covered.
		s.markRun(name)
		return nil
	}
	defer func() {
		if relErr := s.locker.Release(ctx, lockKey, token); relErr != nil {
			s.log.Debug("release job lock", zap.String("job", name), zap.Error(relErr))
		}
	}()

	start := s.clock.Now()
	log := s.log.With(zap.String("job", name))
	log.Info("job started")

	err = fn(ctx)
	s.markRun(name)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Duration("timeout", jobTimeout), zap.Error(err))
		return nil
	}
	if err != nil {
		log.Error("job failed", zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}

	log.Info("job finished", zap.Duration("duration", s.clock.Now().Sub(start)))
	return nil
}

func (s *Scheduler) RefreshHeadlinesJob(ctx context.Context) error {
	_, err := s.news.RefreshHeadlines(ctx)
	return err
}

func (s *Scheduler) notifyJob(ctx context.Context, freq notificationdomain.Frequency) error {
	heads, err := s.news.Headlines(ctx, "", 3)
	if err != nil {
		return err
	}
	if len(heads) == 0 {
		return nil
	}

	titles := make([]string, len(heads))
	for i, h := range heads {
		titles[i] = h.Title
	}

	report, err := s.notifications.SendHeadlines(ctx, freq, "Top stories", strings.Join(titles, " · "))
	if err != nil {
		return err
	}
	s.log.Info("notify fanout",
		zap.String("frequency", string(freq)),
		zap.Int("sent", report.Sent),
		zap.Int("deactivated", report.Deactivated),
	)
	return nil
}

// CleanupJob prunes stale headlines and deactivates idle push tokens.
func (s *Scheduler) CleanupJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	var jobErr error

	res := s.db.WithContext(ctx).
		Where("fetched_at < ?", now.Add(-headlineRetention)).
		Delete(&newsdomain.Headline{})
	if res.Error != nil {
		jobErr = errors.Join(jobErr, res.Error)
	} else if res.RowsAffected > 0 {
		s.log.Info("pruned stale headlines", zap.Int64("deleted", res.RowsAffected))
	}

	res = s.db.WithContext(ctx).
		Model(&notificationdomain.DeviceToken{}).
		Where("is_active = ? AND last_used_at < ?", true, now.Add(-tokenIdleCutoff)).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": now,
		})
	if res.Error != nil {
		jobErr = errors.Join(jobErr, res.Error)
	} else if res.RowsAffected > 0 {
		s.log.Info("deactivated idle tokens", zap.Int64("count", res.RowsAffected))
	}

	return jobErr
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) last(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name]
}

func (s *Scheduler) markRun(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = s.clock.Now().UTC()
}

func dueHourly(now, last time.Time) bool {
	return last.Before(now.Truncate(time.Hour))
}

func dueDaily(now, last time.Time) bool {
	slot := time.Date(now.Year(), now.Month(), now.Day(), notifyHourUTC, 0, 0, 0, time.UTC)
	return !now.Before(slot) && last.Before(slot)
}

func dueWeekly(now, last time.Time) bool {
	// Most recent Monday 09:00 UTC at or before now.
	daysBack := (int(now.Weekday()) - int(time.Monday) + 7) % 7
	slot := time.Date(now.Year(), now.Month(), now.Day(), notifyHourUTC, 0, 0, 0, time.UTC).AddDate(0, 0, -daysBack)
	if slot.After(now) {
		slot = slot.AddDate(0, 0, -7)
	}
	return last.Before(slot)
}

func dueAtMidnight(now, last time.Time) bool {
	return last.Before(now.Truncate(24 * time.Hour))
}
