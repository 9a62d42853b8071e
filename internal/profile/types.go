package profile

import (
	"context"
	"time"

	"smartpush/internal/behavior"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelPush   Channel = "push"
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelInApp  Channel = "in_app"
	ChannelSocket Channel = "socket"
)

// ReadingPatterns summarizes when and how a user reads.
type ReadingPatterns struct {
	Hourly [24]float64 `json:"hourly"`
	Daily  [7]float64  `json:"daily"`

	PeakHours  []int `json:"peak_hours,omitempty"`
	QuietHours []int `json:"quiet_hours,omitempty"`

	AvgSessionDuration time.Duration `json:"avg_session_duration"`
	AvgReadingSpeed    float64       `json:"avg_reading_speed"`
	AvgCompletion      float64       `json:"avg_completion"`
	Consistency        float64       `json:"consistency"` // 1 - CV of hourly histogram
}

// IsQuietHour reports whether h falls into the user's quiet hours.
func (rp ReadingPatterns) IsQuietHour(h int) bool {
	for _, q := range rp.QuietHours {
		if q == h {
			return true
		}
	}
	return false
}

// IsPeakHour reports whether h is one of the user's peak hours.
func (rp ReadingPatterns) IsPeakHour(h int) bool {
	for _, p := range rp.PeakHours {
		if p == h {
			return true
		}
	}
	return false
}

// EngagementRecord is one entry of the bounded engagement history.
type EngagementRecord struct {
	At        time.Time          `json:"at"`
	Type      behavior.EventType `json:"type"`
	ContentID string             `json:"content_id,omitempty"`
	Category  string             `json:"category,omitempty"`
}

// SentimentPrefs is the user's observed sentiment consumption distribution.
// The three buckets sum to 1 once any history exists.
type SentimentPrefs struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// EvolutionLabel classifies how a category interest is trending.
type EvolutionLabel string

const (
	EvolutionEmerging  EvolutionLabel = "emerging"
	EvolutionDeclining EvolutionLabel = "declining"
	EvolutionSeasonal  EvolutionLabel = "seasonal"
	EvolutionStable    EvolutionLabel = "stable"
)

// FrequencyTier is the user's chosen notification volume.
type FrequencyTier string

const (
	FrequencyLow    FrequencyTier = "low"
	FrequencyNormal FrequencyTier = "normal"
	FrequencyHigh   FrequencyTier = "high"
)

// NotificationPrefs are explicit user settings honored by the pipeline.
type NotificationPrefs struct {
	Enabled       bool          `json:"enabled"`
	Frequency     FrequencyTier `json:"frequency"`
	MaxPerDay     int           `json:"max_per_day"`
	EnabledTypes  []string      `json:"enabled_types,omitempty"`
	Channels      []Channel     `json:"channels,omitempty"`
	AllowGrouping bool          `json:"allow_grouping"`
}

// Profile is the engine's learned model of one user.
//
// Interests form a probability-like distribution: active weights sum to 1
// and entries below the decay floor are removed.
type Profile struct {
	UserID string `json:"user_id"`

	Interests map[string]float64 `json:"interests"`

	Patterns ReadingPatterns `json:"patterns"`

	Engagement []EngagementRecord `json:"engagement,omitempty"`

	DevicePrefs map[Channel]float64       `json:"device_prefs,omitempty"` // 0..1 affinity
	Sentiment   SentimentPrefs            `json:"sentiment"`
	Evolution   map[string]EvolutionLabel `json:"evolution,omitempty"`

	Notifications NotificationPrefs `json:"notifications"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// engagementCap bounds the engagement history.
const engagementCap = 1000

// New creates a profile with sane defaults; called lazily on first event.
func New(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:    userID,
		Interests: map[string]float64{},
		DevicePrefs: map[Channel]float64{
			ChannelPush:  0.7,
			ChannelInApp: 0.5,
			ChannelEmail: 0.3,
		},
		Notifications: NotificationPrefs{
			Enabled:       true,
			Frequency:     FrequencyNormal,
			MaxPerDay:     10,
			Channels:      []Channel{ChannelPush, ChannelInApp},
			AllowGrouping: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecordEngagement appends to the bounded engagement history.
func (p *Profile) RecordEngagement(rec EngagementRecord) {
	p.Engagement = append(p.Engagement, rec)
	if len(p.Engagement) > engagementCap {
		p.Engagement = p.Engagement[len(p.Engagement)-engagementCap:]
	}
}

// InterestIn returns the weight for a single interest key (0 if absent).
func (p *Profile) InterestIn(key string) float64 {
	if p.Interests == nil {
		return 0
	}
	return p.Interests[key]
}

// ChannelAffinity returns the user's affinity for a channel, defaulting to
// a neutral 0.5 when unknown.
func (p *Profile) ChannelAffinity(ch Channel) float64 {
	if p.DevicePrefs == nil {
		return 0.5
	}
	v, ok := p.DevicePrefs[ch]
	if !ok {
		return 0.5
	}
	return v
}

// Store is the external profile persistence contract.
type Store interface {
	Load(ctx context.Context, userID string) (*Profile, bool, error)
	Save(ctx context.Context, p *Profile) error
	// Delete supports explicit erasure; profiles are never hard-deleted
	// otherwise.
	Delete(ctx context.Context, userID string) error
}
