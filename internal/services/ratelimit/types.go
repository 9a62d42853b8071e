package ratelimit

import (
	"context"
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/profile"
	"smartpush/internal/rules"
)

// Scope selects which slice of traffic a rule counts.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeUser    Scope = "user"
	ScopeChannel Scope = "channel"
	ScopeType    Scope = "type"
)

// Granularity is a counting window size.
type Granularity string

const (
	PerSecond Granularity = "second"
	PerMinute Granularity = "minute"
	PerHour   Granularity = "hour"
	PerDay    Granularity = "day"
)

func (g Granularity) Window() time.Duration {
	switch g {
	case PerSecond:
		return time.Second
	case PerMinute:
		return time.Minute
	case PerHour:
		return time.Hour
	case PerDay:
		return 24 * time.Hour
	}
	return 0
}

// Exception bypasses a rule's cap when it matches the request.
// Zero-value fields are ignored.
type Exception struct {
	MinPriority notification.Priority `yaml:"min_priority" json:"minPriority,omitempty"`
	Types       []notification.Type   `yaml:"types" json:"types,omitempty"`
	// Hour-of-day range, inclusive start, exclusive end. Wraps midnight
	// when HourFrom > HourTo. Both zero means no time restriction.
	HourFrom int `yaml:"hour_from" json:"hourFrom,omitempty"`
	HourTo   int `yaml:"hour_to" json:"hourTo,omitempty"`
}

// Rule is one scoped quota. Higher Priority rules are evaluated first.
type Rule struct {
	Name       string              `yaml:"name" json:"name"`
	Scope      Scope               `yaml:"scope" json:"scope"`
	Priority   int                 `yaml:"priority" json:"priority"`
	Caps       map[Granularity]int `yaml:"caps" json:"caps"`
	Conditions []rules.Condition   `yaml:"conditions" json:"conditions,omitempty"`
	Exceptions []Exception         `yaml:"exceptions" json:"exceptions,omitempty"`
}

// Request is one candidate notification asking for permission to send.
type Request struct {
	UserID   string
	Type     notification.Type
	Priority notification.Priority
	Channel  profile.Channel
	Profile  *profile.Profile
}

// Quota reports consumption of the window that decided the outcome.
type Quota struct {
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt"`
}

// Decision is the outcome of a ShouldSend check. A block is a normal
// terminal decision, not an error.
type Decision struct {
	Allowed           bool    `json:"allowed"`
	Reason            string  `json:"reason,omitempty"`
	Rule              string  `json:"rule,omitempty"`
	RetryAfterSec     float64 `json:"retryAfterSec,omitempty"`
	SuggestedDelaySec float64 `json:"suggestedDelaySec,omitempty"`
	Quota             Quota   `json:"quota"`
}

// History is the durable backing for rate records. The in-memory
// windows stay authoritative; the store only survives restarts.
type History interface {
	AppendRateRecord(ctx context.Context, scope string, at time.Time) error
	RateHistory(ctx context.Context, scope string, since time.Time) ([]time.Time, error)
}

// Config controls the limiter and its adaptive layer.
type Config struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Rules    []Rule         `yaml:"rules" json:"rules,omitempty"`
	Adaptive AdaptiveConfig `yaml:"adaptive" json:"adaptive"`
}

// AdaptiveConfig bounds the per-user hourly budget.
type AdaptiveConfig struct {
	Seed          int     `yaml:"seed" json:"seed"`
	Floor         int     `yaml:"floor" json:"floor"`
	Ceiling       int     `yaml:"ceiling" json:"ceiling"`
	LowEngagement float64 `yaml:"low_engagement" json:"lowEngagement"`
}

// DefaultRules is the rule set used when configuration supplies none.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "global_flood",
			Scope:    ScopeGlobal,
			Priority: 100,
			Caps:     map[Granularity]int{PerSecond: 50, PerMinute: 1200},
		},
		{
			Name:     "user_budget",
			Scope:    ScopeUser,
			Priority: 90,
			Caps:     map[Granularity]int{PerHour: 30, PerDay: 100},
			Exceptions: []Exception{
				{MinPriority: notification.PriorityCritical, Types: []notification.Type{notification.TypeBreakingNews}},
			},
		},
		{
			Name:       "push_channel",
			Scope:      ScopeChannel,
			Priority:   80,
			Caps:       map[Granularity]int{PerHour: 15},
			Conditions: []rules.Condition{{Field: "channel", Op: rules.OpEq, Value: string(profile.ChannelPush)}},
		},
		{
			Name:       "sms_channel",
			Scope:      ScopeChannel,
			Priority:   80,
			Caps:       map[Granularity]int{PerDay: 3},
			Conditions: []rules.Condition{{Field: "channel", Op: rules.OpEq, Value: string(profile.ChannelSMS)}},
		},
		{
			Name:       "recommendation_budget",
			Scope:      ScopeType,
			Priority:   70,
			Caps:       map[Granularity]int{PerDay: 5},
			Conditions: []rules.Condition{{Field: "type", Op: rules.OpEq, Value: string(notification.TypeRecommendation)}},
		},
		{
			Name:       "re_engagement_budget",
			Scope:      ScopeType,
			Priority:   70,
			Caps:       map[Granularity]int{PerDay: 1},
			Conditions: []rules.Condition{{Field: "type", Op: rules.OpEq, Value: string(notification.TypeReEngagement)}},
		},
	}
}
