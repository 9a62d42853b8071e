package config

// Config is the root configuration document. It accepts YAML or JSON;
// YAML is coerced to JSON so one strict decoder covers both formats.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Scheduler controls the durable timer service and recurring
	// maintenance jobs.
	Scheduler SchedulerConfig `json:"scheduler"`

	RateLimit RateLimitConfig `json:"rate_limit"`
	Dedup     DedupConfig     `json:"dedup"`
	Digest    DigestConfig    `json:"digest"`
	Dispatch  DispatchConfig  `json:"dispatch"`

	Pipeline PipelineConfig `json:"pipeline"`
	Behavior BehaviorConfig `json:"behavior"`
	Profile  ProfileConfig  `json:"profile"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./smartpush_store" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`

	// DefaultTimeout bounds one task attempt. "0s" disables the bound.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	// ProfileRecompute is the cadence of the profile rebuild job.
	ProfileRecompute string `json:"profile_recompute,omitempty"`
	// PruneEvery is the cadence of the rate/dedup/digest pruning job.
	PruneEvery string `json:"prune_every,omitempty"`
}

// RateLimitConfig tunes the sliding-window quota service. The rule list
// itself is code-defined; config adjusts the adaptive layer.
type RateLimitConfig struct {
	Enabled  bool           `json:"enabled"`
	Adaptive AdaptiveConfig `json:"adaptive"`
}

type AdaptiveConfig struct {
	Seed          int     `json:"seed,omitempty"`
	Floor         int     `json:"floor,omitempty"`
	Ceiling       int     `json:"ceiling,omitempty"`
	LowEngagement float64 `json:"low_engagement,omitempty"`
}

type DedupConfig struct {
	Enabled bool `json:"enabled"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
}

// DispatchConfig controls the async delivery pipeline.
type DispatchConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// ScheduleAhead is how far in the future a predicted optimal time must
	// be before a candidate is parked as scheduled instead of sent now.
	ScheduleAhead string `json:"schedule_ahead,omitempty"`
	RecentWindow  int    `json:"recent_window,omitempty"`
}

// BehaviorConfig tunes live event-state tracking.
type BehaviorConfig struct {
	// InactiveAfter marks an idle user inactive; EvictAfter drops their
	// live state entirely.
	InactiveAfter string `json:"inactive_after,omitempty"`
	EvictAfter    string `json:"evict_after,omitempty"`
}

// ProfileConfig tunes the interest profile builder.
type ProfileConfig struct {
	// DecayFactor is applied per recompute cycle.
	DecayFactor float64 `json:"decay_factor,omitempty"`
	// FloorWeight drops interests that decay below it.
	FloorWeight float64 `json:"floor_weight,omitempty"`
}
