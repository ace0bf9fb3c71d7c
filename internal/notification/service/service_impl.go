// Package service manages device push tokens, preferences, and the
// Expo headline fanout.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/internal/clock"
	notificationdomain "github.com/velra-app/velra/internal/notification/domain"
	"github.com/velra-app/velra/internal/providers/expo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pusher interface {
	Send(ctx context.Context, messages []expo.Message) ([]expo.Ticket, error)
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Expo  *expo.Client
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	expo  pusher
}

func NewService(p ServiceParam) notificationdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		expo:  p.Expo,
	}
}

func (s *Service) RegisterToken(ctx context.Context, req notificationdomain.RegisterTokenRequest) (*notificationdomain.DeviceToken, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, notificationdomain.ErrInvalidToken
	}

	now := s.clock.Now().UTC()
	row := &notificationdomain.DeviceToken{
		ID:         s.genID.Generate(),
		UserID:     req.UserID,
		DeviceID:   strings.TrimSpace(req.DeviceID),
		Token:      token,
		Platform:   strings.TrimSpace(req.Platform),
		IsActive:   true,
		LastUsedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Re-registering an existing token reactivates it and refreshes
	// ownership, the same device may change hands between users.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "device_id", "platform", "is_active", "last_used_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	var stored notificationdomain.DeviceToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Service) UnregisterToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return notificationdomain.ErrInvalidToken
	}
	return s.db.WithContext(ctx).
		Model(&notificationdomain.DeviceToken{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": s.clock.Now().UTC(),
		}).Error
}

func (s *Service) Preference(ctx context.Context, token string) (*notificationdomain.Preference, error) {
	row, err := s.tokenByValue(ctx, token)
	if err != nil {
		return nil, err
	}

	var pref notificationdomain.Preference
	err = s.db.WithContext(ctx).
		Where("device_token_id = ?", row.ID).
		First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Defaults apply until the device sets anything.
		return &notificationdomain.Preference{
			DeviceTokenID: row.ID,
			Frequency:     notificationdomain.FrequencyDaily,
			Enabled:       true,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (s *Service) SetPreference(ctx context.Context, req notificationdomain.SetPreferenceRequest) (*notificationdomain.Preference, error) {
	if !req.Frequency.Valid() {
		return nil, notificationdomain.ErrInvalidFrequency
	}
	row, err := s.tokenByValue(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	var categories datatypes.JSON
	if len(req.Categories) > 0 {
		raw, err := json.Marshal(req.Categories)
		if err != nil {
			return nil, err
		}
		categories = raw
	}

	now := s.clock.Now().UTC()
	pref := &notificationdomain.Preference{
		ID:            s.genID.Generate(),
		DeviceTokenID: row.ID,
		Frequency:     req.Frequency,
		Enabled:       req.Enabled,
		Categories:    categories,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_token_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"frequency", "enabled", "categories", "updated_at"}),
	}).Create(pref).Error
	if err != nil {
		return nil, err
	}

	var stored notificationdomain.Preference
	if err := s.db.WithContext(ctx).Where("device_token_id = ?", row.ID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Service) SendHeadlines(ctx context.Context, freq notificationdomain.Frequency, title, body string) (*notificationdomain.SendReport, error) {
	if !freq.Valid() {
		return nil, notificationdomain.ErrInvalidFrequency
	}

	var tokens []notificationdomain.DeviceToken
	err := s.db.WithContext(ctx).
		Model(&notificationdomain.DeviceToken{}).
		Joins("LEFT JOIN notification_preferences p ON p.device_token_id = device_tokens.id").
		Where("device_tokens.is_active = ?", true).
		Where("p.enabled IS NULL OR p.enabled = ?", true).
		Where("COALESCE(p.frequency, 'daily') = ?", string(freq)).
		Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return &notificationdomain.SendReport{}, nil
	}

	messages := make([]expo.Message, len(tokens))
	for i, tok := range tokens {
		messages[i] = expo.Message{
			To:    tok.Token,
			Title: title,
			Body:  body,
			Sound: "default",
		}
	}

	tickets, err := s.expo.Send(ctx, messages)
	if err != nil {
		return nil, err
	}

	report := &notificationdomain.SendReport{}
	var dead []string
	for i, ticket := range tickets {
		if ticket.Ok() {
			report.Sent++
			continue
		}
		report.Failed++
		if ticket.ShouldDeactivateToken() && i < len(tokens) {
			dead = append(dead, tokens[i].Token)
		}
	}

	if len(dead) > 0 {
		err := s.db.WithContext(ctx).
			Model(&notificationdomain.DeviceToken{}).
			Where("token IN ?", dead).
			Updates(map[string]any{
				"is_active":  false,
				"updated_at": s.clock.Now().UTC(),
			}).Error
		if err != nil {
			s.log.Error("deactivate dead tokens", zap.Error(err))
		} else {
			report.Deactivated = len(dead)
		}
	}

	s.log.Info("headline fanout",
		zap.String("frequency", string(freq)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("deactivated", report.Deactivated),
	)
	return report, nil
}

func (s *Service) SendTest(ctx context.Context, token string) error {
	row, err := s.tokenByValue(ctx, token)
	if err != nil {
		return err
	}

	tickets, err := s.expo.Send(ctx, []expo.Message{{
		To:    row.Token,
		Title: "Test notification",
		Body:  "Push notifications are working.",
		Sound: "default",
	}})
	if err != nil {
		return err
	}
	if len(tickets) == 1 && !tickets[0].Ok() {
		return errors.New("push rejected: " + tickets[0].Details.Error)
	}
	return nil
}

func (s *Service) tokenByValue(ctx context.Context, token string) (*notificationdomain.DeviceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, notificationdomain.ErrInvalidToken
	}
	var row notificationdomain.DeviceToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notificationdomain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
