package scheduler

import (
	"time"

	"github.com/smallbiznis/paysync/internal/config"
)

// Config controls the expiry sweep.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	// Grace delays expiry past expires_at so a late renewal webhook can land first.
	Grace      time.Duration
	BatchSize  int
	JobTimeout time.Duration
	LockTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Hour,
		BatchSize:   100,
		JobTimeout:  5 * time.Minute,
		LockTTL:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Sweep.Enabled,
		RunInterval: cfg.Sweep.Interval,
		Grace:       cfg.Sweep.Grace,
		BatchSize:   cfg.Sweep.BatchSize,
	}.withDefaults()
}
