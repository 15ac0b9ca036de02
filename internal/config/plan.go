package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const DefaultBillingPeriodDays = 90

// PlanConfig describes the subscription plan terms applied by the reconciler.
type PlanConfig struct {
	BillingPeriodDays int `mapstructure:"billingPeriodDays"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{BillingPeriodDays: DefaultBillingPeriodDays}
}

// BillingPeriod returns the duration one successful payment extends a
// subscription by.
func (p PlanConfig) BillingPeriod() time.Duration {
	days := p.BillingPeriodDays
	if days <= 0 {
		days = DefaultBillingPeriodDays
	}
	return time.Duration(days) * 24 * time.Hour
}

type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

// NewStaticPlanConfigHolder returns a holder that never reloads.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPlanConfigHolder(log *zap.Logger) (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plan")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/paysync/config")
	v.AddConfigPath("/etc/paysync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("plan.billingPeriodDays", DefaultBillingPeriodDays)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg PlanConfig
	if err := v.UnmarshalKey("plan", &cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPlanConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	log = log.Named("config.plan")
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.UnmarshalKey("plan", &updated); err != nil {
			log.Warn("plan config reload failed", zap.Error(err))
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Warn("invalid plan config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plan config reloaded",
			zap.String("file", e.Name),
			zap.Int("billing_period_days", updated.BillingPeriodDays),
		)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

func validatePlanConfig(cfg PlanConfig) error {
	if cfg.BillingPeriodDays <= 0 {
		return errors.New("plan.billingPeriodDays must be positive")
	}
	return nil
}
