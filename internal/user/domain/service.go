package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SocialSignInRequest carries a provider identity that has already
// been verified by the transport layer.
type SocialSignInRequest struct {
	Provider string
	Subject  string
	Email    string
}

type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        *User  `json:"user"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)

	// SocialSignIn logs a verified Google or Apple identity in,
	// creating the account on first sight.
	SocialSignIn(ctx context.Context, req SocialSignInRequest) (*AuthResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	GetByRevenueCatAppUserID(ctx context.Context, appUserID string) (*User, error)

	// LinkRevenueCat attaches a RevenueCat app user id to the account so
	// webhook events can be routed to it.
	LinkRevenueCat(ctx context.Context, id snowflake.ID, appUserID string) (*User, error)

	// SetPremium flips the premium entitlement, usually from a webhook.
	SetPremium(ctx context.Context, id snowflake.ID, premium bool, subType SubscriptionType) (*User, error)

	// ConsumeInsightsRequest spends one AI-insights request for free
	// users. Premium users pass without counting.
	ConsumeInsightsRequest(ctx context.Context, id snowflake.ID) (*User, error)

	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error

	// Delete removes the account and all dependent state, including
	// usage counters.
	Delete(ctx context.Context, id snowflake.ID) error
}

var (
	ErrEmailTaken          = errors.New("email_taken")
	ErrUsernameTaken       = errors.New("username_taken")
	ErrInvalidCredentials  = errors.New("invalid_credentials")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrUserInactive        = errors.New("user_inactive")
	ErrWeakPassword        = errors.New("weak_password")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInsightsLimit       = errors.New("insights_limit_reached")
	ErrResetTokenInvalid   = errors.New("reset_token_invalid")
	ErrRevenueCatIDInUse   = errors.New("revenuecat_id_in_use")
	ErrRevenueCatIDMissing = errors.New("revenuecat_id_missing")
)
