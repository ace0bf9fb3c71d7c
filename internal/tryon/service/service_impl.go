// Package service runs try-on submissions through metering, the
// upstream provider, and the predictions store.
package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/providers/fashn"
	"github.com/velra-app/velra/internal/ratelimit"
	tryondomain "github.com/velra-app/velra/internal/tryon/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fashnAPI is the slice of the provider client the service uses.
type fashnAPI interface {
	Run(ctx context.Context, req fashn.RunRequest) (*fashn.RunResponse, error)
	Status(ctx context.Context, predictionID string) (*fashn.StatusResponse, error)
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Fashn   *fashn.Client
	Usage   usagedomain.Service
	Limiter *ratelimit.DeviceLimiter
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	fashn   fashnAPI
	usage   usagedomain.Service
	limiter *ratelimit.DeviceLimiter
}

func NewService(p ServiceParam) tryondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tryon.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		fashn:   p.Fashn,
		usage:   p.Usage,
		limiter: p.Limiter,
	}
}

func (s *Service) Start(ctx context.Context, req tryondomain.StartRequest) (*tryondomain.StartResult, error) {
	if !req.Subject.Valid() {
		return nil, usagedomain.ErrInvalidSubject
	}
	if len(req.ModelImage) == 0 || len(req.GarmentImage) == 0 {
		return nil, tryondomain.ErrMissingImages
	}

	if req.Subject.Kind == usagedomain.SubjectDevice {
		res, err := s.limiter.Allow(ctx, req.Subject.ID)
		if err != nil {
			// Redis being down must not block try-ons.
			s.log.Warn("device limiter unavailable", zap.Error(err))
		} else if !res.Allowed {
			return nil, &tryondomain.RateLimitedError{RetryAfter: res.RetryAfter}
		}
	}

	consume, err := s.usage.Consume(ctx, usagedomain.ConsumeRequest{
		Subject:        req.Subject,
		Tier:           req.Tier,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if !consume.Allowed {
		s.log.Info("try-on denied",
			zap.String("subject", req.Subject.Key()),
			zap.String("reason", string(consume.Reason)),
		)
		return nil, &tryondomain.DeniedError{Reason: consume.Reason, Stats: consume.Stats}
	}

	run, err := s.fashn.Run(ctx, fashn.RunRequest{
		ModelImage:   req.ModelImage,
		GarmentImage: req.GarmentImage,
		Category:     req.Category,
	})
	if err != nil {
		// The unit is already spent. Clients see the failure and the
		// counters stay honest about the attempt.
		s.log.Error("try-on submit failed",
			zap.String("subject", req.Subject.Key()),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.clock.Now().UTC()
	pred := &tryondomain.Prediction{
		ID:           s.genID.Generate(),
		PredictionID: run.ID,
		SubjectKind:  req.Subject.Kind,
		SubjectID:    req.Subject.ID,
		Status:       tryondomain.StatusStarting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(pred).Error; err != nil {
		return nil, err
	}

	s.log.Info("try-on started",
		zap.String("subject", req.Subject.Key()),
		zap.String("prediction_id", pred.PredictionID),
	)
	return &tryondomain.StartResult{Prediction: pred, Usage: consume.Stats}, nil
}

func (s *Service) Status(ctx context.Context, predictionID string) (*tryondomain.Prediction, error) {
	var pred tryondomain.Prediction
	err := s.db.WithContext(ctx).
		Where("prediction_id = ?", predictionID).
		First(&pred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tryondomain.ErrPredictionNotFound
	}
	if err != nil {
		return nil, err
	}
	if pred.Terminal() {
		return &pred, nil
	}

	status, err := s.fashn.Status(ctx, predictionID)
	if errors.Is(err, fashn.ErrNotFound) {
		return nil, tryondomain.ErrPredictionNotFound
	}
	if err != nil {
		// Upstream hiccups should not break polling. Serve the last
		// stored state.
		s.log.Warn("status poll failed",
			zap.String("prediction_id", predictionID),
			zap.Error(err),
		)
		return &pred, nil
	}

	pred.Status = status.Status
	pred.Error = status.Error
	pred.UpdatedAt = s.clock.Now().UTC()
	if len(status.Output) > 0 {
		raw, err := json.Marshal(status.Output)
		if err != nil {
			return nil, err
		}
		pred.Output = raw
	}

	err = s.db.WithContext(ctx).
		Model(&tryondomain.Prediction{}).
		Where("prediction_id = ?", predictionID).
		Updates(map[string]any{
			"status":     pred.Status,
			"output":     pred.Output,
			"error":      pred.Error,
			"updated_at": pred.UpdatedAt,
		}).Error
	if err != nil {
		return nil, err
	}
	return &pred, nil
}

func (s *Service) Usage(ctx context.Context, subject usagedomain.Subject, tier usagedomain.Tier) (*usagedomain.Stats, error) {
	return s.usage.Check(ctx, subject, tier)
}
