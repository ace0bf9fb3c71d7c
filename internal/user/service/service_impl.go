// Package service implements account management.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/internal/auth"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	"github.com/velra-app/velra/internal/providers/email"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"github.com/velra-app/velra/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLen = 8
	resetTokenTTL  = time.Hour
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Tokens *auth.Manager
	Email  email.Provider
	Config config.Config
	Limits *config.LimitsHolder
	Usage  usagedomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	tokens *auth.Manager
	email  email.Provider
	cfg    config.Config
	limits *config.LimitsHolder
	usage  usagedomain.Service
}

func NewService(p ServiceParam) userdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("user.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		tokens: p.Tokens,
		email:  p.Email,
		cfg:    p.Config,
		limits: p.Limits,
		usage:  p.Usage,
	}
}

func (s *Service) Register(ctx context.Context, req userdomain.RegisterRequest) (*userdomain.AuthResponse, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	if _, err := mail.ParseAddress(emailAddr); err != nil {
		return nil, userdomain.ErrInvalidEmail
	}
	if username == "" {
		username = emailAddr[:strings.Index(emailAddr, "@")]
	}
	if len(req.Password) < minPasswordLen {
		return nil, userdomain.ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &userdomain.User{
		ID:             s.genID.Generate(),
		Email:          emailAddr,
		Username:       username,
		HashedPassword: string(hashed),
		IsActive:       true,
		LastLoginAt:    &now,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, s.classifyDuplicate(ctx, emailAddr, username)
		}
		return nil, err
	}

	s.log.Info("user registered", zap.String("user_id", user.ID.String()))
	return s.authResponse(user)
}

func (s *Service) Login(ctx context.Context, req userdomain.LoginRequest) (*userdomain.AuthResponse, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))

	var user userdomain.User
	err := s.db.WithContext(ctx).Where("email = ?", emailAddr).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Burn a hash comparison anyway to keep timing flat.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(req.Password))
		return nil, userdomain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)) != nil {
		return nil, userdomain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, userdomain.ErrUserInactive
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn("last login update failed", zap.Error(err))
	}
	user.LastLoginAt = &now

	return s.authResponse(&user)
}

func (s *Service) SocialSignIn(ctx context.Context, req userdomain.SocialSignInRequest) (*userdomain.AuthResponse, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(emailAddr); err != nil {
		return nil, userdomain.ErrInvalidEmail
	}

	var user userdomain.User
	err := s.db.WithContext(ctx).Where("email = ?", emailAddr).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := s.clock.Now()
		user = userdomain.User{
			ID:          s.genID.Generate(),
			Email:       emailAddr,
			Username:    emailAddr[:strings.Index(emailAddr, "@")],
			IsActive:    true,
			LastLoginAt: &now,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				// Username collision with another account; retry once
				// with a numeric suffix.
				user.Username = fmt.Sprintf("%s%d", user.Username, user.ID%100000)
				if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		s.log.Info("user created via social sign-in",
			zap.String("user_id", user.ID.String()),
			zap.String("provider", req.Provider),
		)
	case err != nil:
		return nil, err
	default:
		if !user.IsActive {
			return nil, userdomain.ErrUserInactive
		}
		now := s.clock.Now()
		if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
			s.log.Warn("last login update failed", zap.Error(err))
		}
		user.LastLoginAt = &now
	}

	return s.authResponse(&user)
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	var user userdomain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, userdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetByRevenueCatAppUserID(ctx context.Context, appUserID string) (*userdomain.User, error) {
	appUserID = strings.TrimSpace(appUserID)
	if appUserID == "" {
		return nil, userdomain.ErrRevenueCatIDMissing
	}

	var user userdomain.User
	err := s.db.WithContext(ctx).Where("revenue_cat_app_user_id = ?", appUserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, userdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) LinkRevenueCat(ctx context.Context, id snowflake.ID, appUserID string) (*userdomain.User, error) {
	appUserID = strings.TrimSpace(appUserID)
	if appUserID == "" {
		return nil, userdomain.ErrRevenueCatIDMissing
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(user).Update("revenue_cat_app_user_id", appUserID).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, userdomain.ErrRevenueCatIDInUse
		}
		return nil, err
	}
	user.RevenueCatAppUserID = &appUserID
	return user, nil
}

func (s *Service) SetPremium(ctx context.Context, id snowflake.ID, premium bool, subType userdomain.SubscriptionType) (*userdomain.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if subType == "" {
		subType = userdomain.SubscriptionFree
	}
	err = s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"is_premium":        premium,
		"subscription_type": subType,
		"updated_at":        s.clock.Now(),
	}).Error
	if err != nil {
		return nil, err
	}

	user.IsPremium = premium
	user.SubscriptionType = subType
	s.log.Info("premium status updated",
		zap.String("user_id", id.String()),
		zap.Bool("premium", premium),
		zap.String("subscription_type", string(subType)),
	)
	return user, nil
}

func (s *Service) ConsumeInsightsRequest(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsPremium {
		return user, nil
	}

	cap := s.limits.Get().FreeInsightsCap

	// Guarded increment so concurrent requests cannot pass the cap.
	res := s.db.WithContext(ctx).Model(&userdomain.User{}).
		Where("id = ? AND insights_request_count < ?", id, cap).
		Update("insights_request_count", gorm.Expr("insights_request_count + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, userdomain.ErrInsightsLimit
	}

	user.InsightsRequestCount++
	return user, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))

	user := &userdomain.User{}
	err := s.db.WithContext(ctx).Where("email = ?", emailAddr).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Do not reveal whether the address exists.
		return nil
	}
	if err != nil {
		return err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	token := hex.EncodeToString(raw)

	reset := &userdomain.PasswordResetToken{
		ID:        s.genID.Generate(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: s.clock.Now().Add(resetTokenTTL),
	}
	if err := s.db.WithContext(ctx).Create(reset).Error; err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.FrontendURL, "/"), token)
	body := fmt.Sprintf("<p>Use this link to reset your password. It expires in one hour.</p><p><a href=%q>Reset password</a></p>", link)
	if err := s.email.Send(ctx, []string{user.Email}, "Reset your password", body); err != nil {
		s.log.Warn("reset email send failed", zap.Error(err))
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return userdomain.ErrWeakPassword
	}

	var reset userdomain.PasswordResetToken
	err := s.db.WithContext(ctx).Where("token = ?", strings.TrimSpace(token)).First(&reset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return userdomain.ErrResetTokenInvalid
	}
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if reset.UsedAt != nil || now.After(reset.ExpiresAt) {
		return userdomain.ErrResetTokenInvalid
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&userdomain.User{}).Where("id = ?", reset.UserID).
			Update("hashed_password", string(hashed)).Error; err != nil {
			return err
		}
		return tx.Model(&reset).Update("used_at", now).Error
	})
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.usage.Forget(ctx, usagedomain.UserSubject(id)); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&userdomain.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
	if err != nil {
		return err
	}

	s.log.Info("user deleted", zap.String("user_id", id.String()))
	return nil
}

func (s *Service) authResponse(user *userdomain.User) (*userdomain.AuthResponse, error) {
	token, expiresIn, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, err
	}
	return &userdomain.AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
		User:        user,
	}, nil
}

// classifyDuplicate figures out which unique constraint fired.
func (s *Service) classifyDuplicate(ctx context.Context, emailAddr, username string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&userdomain.User{}).
		Where("email = ?", emailAddr).Count(&count).Error; err == nil && count > 0 {
		return userdomain.ErrEmailTaken
	}
	if err := s.db.WithContext(ctx).Model(&userdomain.User{}).
		Where("username = ?", username).Count(&count).Error; err == nil && count > 0 {
		return userdomain.ErrUsernameTaken
	}
	return userdomain.ErrEmailTaken
}
