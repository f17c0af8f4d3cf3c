package scheduler

import (
	"fmt"
	"time"

	"github.com/smallbiznis/greenledger/internal/config"
)

// Config controls the tick interval, worker pool and enabled jobs.
type Config struct {
	Location    *time.Location
	Tick        time.Duration
	Workers     int
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Location: time.UTC,
		Tick:     time.Minute,
		Workers:  4,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.Tick <= 0 {
		c.Tick = defaults.Tick
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	return c
}

func ProvideConfig(cfg config.Config) (Config, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("%w: SCHEDULER_TZ: %v", config.ErrInvalidConfig, err)
	}
	return Config{
		Location:    loc,
		Tick:        cfg.Scheduler.Tick,
		Workers:     cfg.Scheduler.Workers,
		EnabledJobs: cfg.Scheduler.Jobs,
	}.withDefaults(), nil
}
