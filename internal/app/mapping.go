package app

import (
	"fmt"
	"strings"
	"time"

	"smartpush/internal/config"
	"smartpush/internal/services/dispatch"
	"smartpush/internal/services/ratelimit"
	"smartpush/internal/services/scheduler"
	"smartpush/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)

	switch driver {
	case "", "none", "memory":
		// In-memory state only; nothing survives a restart.
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

// mapRateLimitConfig keeps the rule table code-defined; config only tunes
// the enable flag and the adaptive per-user budget.
func mapRateLimitConfig(cfg *config.Config) ratelimit.Config {
	a := cfg.RateLimit.Adaptive
	return ratelimit.Config{
		Enabled: cfg.RateLimit.Enabled,
		Rules:   ratelimit.DefaultRules(),
		Adaptive: ratelimit.AdaptiveConfig{
			Seed:          a.Seed,
			Floor:         a.Floor,
			Ceiling:       a.Ceiling,
			LowEngagement: a.LowEngagement,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	retryBase, err := config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:       d.Enabled,
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	defTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", s.DefaultTimeout, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        s.Enabled,
		Workers:        s.Workers,
		DefaultTimeout: defTimeout,
		HistorySize:    s.HistorySize,
		Timezone:       s.Timezone,
		RetryMax:       s.RetryMax,
	}, nil
}

func validateConfig(cfg *config.Config) error {
	if cfg.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if cfg.Scheduler.HistorySize < 0 {
		return fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if cfg.Scheduler.RetryMax < 0 {
		return fmt.Errorf("scheduler.retry_max must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	for path, raw := range map[string]string{
		"scheduler.default_timeout":   cfg.Scheduler.DefaultTimeout,
		"scheduler.profile_recompute": cfg.Scheduler.ProfileRecompute,
		"scheduler.prune_every":       cfg.Scheduler.PruneEvery,
		"dispatch.retry_base":         cfg.Dispatch.RetryBase,
		"dispatch.retry_max_delay":    cfg.Dispatch.RetryMaxDelay,
		"dispatch.send_timeout":       cfg.Dispatch.SendTimeout,
		"pipeline.schedule_ahead":     cfg.Pipeline.ScheduleAhead,
		"behavior.inactive_after":     cfg.Behavior.InactiveAfter,
		"behavior.evict_after":        cfg.Behavior.EvictAfter,
	} {
		if _, err := config.ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	a := cfg.RateLimit.Adaptive
	if a.Floor < 0 || a.Ceiling < 0 || a.Seed < 0 {
		return fmt.Errorf("rate_limit.adaptive values must be >= 0")
	}
	if a.Ceiling > 0 && a.Floor > a.Ceiling {
		return fmt.Errorf("rate_limit.adaptive.floor must not exceed ceiling")
	}
	if a.LowEngagement < 0 || a.LowEngagement > 1 {
		return fmt.Errorf("rate_limit.adaptive.low_engagement must be in [0, 1]")
	}

	if d := cfg.Profile.DecayFactor; d < 0 || d > 1 {
		return fmt.Errorf("profile.decay_factor must be in [0, 1]")
	}
	if f := cfg.Profile.FloorWeight; f < 0 || f >= 1 {
		return fmt.Errorf("profile.floor_weight must be in [0, 1)")
	}

	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
