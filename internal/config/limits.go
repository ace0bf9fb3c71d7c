package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TierLimits is the usage allowance for one subscription tier.
type TierLimits struct {
	DailyLimit   int `mapstructure:"dailyLimit"`
	MonthlyLimit int `mapstructure:"monthlyLimit"`
}

// LimitsConfig holds per-tier usage allowances plus ancillary caps.
type LimitsConfig struct {
	Free            TierLimits `mapstructure:"free"`
	Subscribed      TierLimits `mapstructure:"subscribed"`
	FreeInsightsCap int        `mapstructure:"freeInsightsCap"`
}

func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		Free:            TierLimits{DailyLimit: 1, MonthlyLimit: 40},
		Subscribed:      TierLimits{DailyLimit: 40, MonthlyLimit: 40},
		FreeInsightsCap: 3,
	}
}

// LimitsHolder exposes the current limits config and hot-reloads it
// when the backing file changes.
type LimitsHolder struct {
	current atomic.Value // holds LimitsConfig
}

func NewLimitsHolder() (*LimitsHolder, error) {
	v := viper.New()

	v.SetConfigName("limits")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/velra/config")
	v.AddConfigPath("/etc/velra")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VELRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultLimitsConfig()
		v.SetDefault("limits.free", defaults.Free)
		v.SetDefault("limits.subscribed", defaults.Subscribed)
		v.SetDefault("limits.freeInsightsCap", defaults.FreeInsightsCap)
	}

	var cfg LimitsConfig
	if err := v.UnmarshalKey("limits", &cfg); err != nil {
		return nil, err
	}
	if err := validateLimitsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LimitsHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LimitsConfig
		if err := v.UnmarshalKey("limits", &updated); err != nil {
			log.Printf("[limits-config] reload failed: %v", err)
			return
		}
		if err := validateLimitsConfig(updated); err != nil {
			log.Printf("[limits-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[limits-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticLimitsHolder returns a holder pinned to cfg. Used by tests.
func NewStaticLimitsHolder(cfg LimitsConfig) *LimitsHolder {
	holder := &LimitsHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *LimitsHolder) Get() LimitsConfig {
	return h.current.Load().(LimitsConfig)
}

func validateLimitsConfig(cfg LimitsConfig) error {
	if cfg.Free.DailyLimit <= 0 || cfg.Free.MonthlyLimit <= 0 {
		return errors.New("limits.free must be positive")
	}
	if cfg.Subscribed.DailyLimit <= 0 || cfg.Subscribed.MonthlyLimit <= 0 {
		return errors.New("limits.subscribed must be positive")
	}
	if cfg.FreeInsightsCap <= 0 {
		return errors.New("limits.freeInsightsCap must be positive")
	}
	return nil
}
