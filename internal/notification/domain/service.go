package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// RegisterTokenRequest registers or reactivates one push token.
type RegisterTokenRequest struct {
	UserID   *snowflake.ID
	DeviceID string
	Token    string
	Platform string
}

// SetPreferenceRequest updates a device's push settings.
type SetPreferenceRequest struct {
	Token      string
	Frequency  Frequency
	Enabled    bool
	Categories []string
}

// SendReport summarizes one fanout.
type SendReport struct {
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
}

// Service manages device push tokens and the headline fanout.
type Service interface {
	RegisterToken(ctx context.Context, req RegisterTokenRequest) (*DeviceToken, error)

	// UnregisterToken marks the token inactive. Unknown tokens are not
	// an error, the device is gone either way.
	UnregisterToken(ctx context.Context, token string) error

	Preference(ctx context.Context, token string) (*Preference, error)
	SetPreference(ctx context.Context, req SetPreferenceRequest) (*Preference, error)

	// SendHeadlines pushes the given headline summary to every active
	// device subscribed at the frequency. Tokens Expo reports as dead
	// are deactivated.
	SendHeadlines(ctx context.Context, freq Frequency, title, body string) (*SendReport, error)

	// SendTest pushes a single test message to one token.
	SendTest(ctx context.Context, token string) error
}

var (
	ErrTokenNotFound    = errors.New("device_token_not_found")
	ErrInvalidToken     = errors.New("device_token_invalid")
	ErrInvalidFrequency = errors.New("invalid_frequency")
)
