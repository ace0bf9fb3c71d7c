package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/velra-app/velra/internal/config"
)

const keyTryonDevice = "tryon:device:%s"

// DeviceLimiter throttles try-on submissions per device to absorb
// client retry storms before they reach the usage service.
type DeviceLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewDeviceLimiter(cfg config.Config, bucket *TokenBucket) *DeviceLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || bucket == nil {
		return &DeviceLimiter{}
	}
	return &DeviceLimiter{
		enabled: true,
		bucket:  bucket,
		rate:    limitCfg.DeviceRate,
		burst:   limitCfg.DeviceBurst,
	}
}

func (l *DeviceLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow reports whether the device may submit another request now.
// When disabled every request passes.
func (l *DeviceLimiter) Allow(ctx context.Context, deviceID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyTryonDevice, strings.TrimSpace(deviceID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
