package orchestrator

import (
	"context"
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/profile"
	"smartpush/internal/services/dedup"
	"smartpush/internal/services/dispatch"
	"smartpush/internal/services/ratelimit"
)

// Template is the external template contract: title and message with
// {placeholder} markers substituted at creation time.
type Template struct {
	Title   string
	Message string
}

// TemplateStore supplies notification templates by type. Implemented
// externally; the orchestrator falls back to built-in defaults when the
// store is nil or misses.
type TemplateStore interface {
	Get(ctx context.Context, typ notification.Type) (Template, bool, error)
}

// CreateRequest is the inbound CreateAndSend payload.
type CreateRequest struct {
	UserID    string            `json:"userId"`
	Type      notification.Type `json:"type"`
	ContentID string            `json:"contentId,omitempty"`
	Custom    map[string]string `json:"customData,omitempty"`

	Priority    notification.Priority `json:"priority,omitempty"`
	Channels    []profile.Channel     `json:"channels,omitempty"`
	ScheduledAt time.Time             `json:"scheduledTime,omitempty"`
}

// Outcome is the terminal result of one pipeline pass. Blocks are
// decisions, not errors: the error return of ProcessAndSend is reserved
// for infrastructure failures.
type Outcome struct {
	Notification notification.Notification  `json:"notification"`
	RateDecision *ratelimit.Decision        `json:"rateDecision,omitempty"`
	Duplicate    *dedup.Verdict             `json:"duplicate,omitempty"`
	ScheduledFor time.Time                  `json:"scheduledFor,omitempty"`
	Group        *notification.Group        `json:"group,omitempty"`
	Deliveries   []dispatch.DeliveryResult  `json:"deliveries,omitempty"`
}

// Config tunes pipeline behavior.
type Config struct {
	// ScheduleAhead is how far in the future the predicted optimal time
	// must be before the notification is parked as scheduled rather than
	// sent now.
	ScheduleAhead time.Duration `yaml:"schedule_ahead" json:"scheduleAhead"`
	// RecentWindow bounds the per-user recent-notification memory used
	// by scoring and dedup.
	RecentWindow int `yaml:"recent_window" json:"recentWindow"`
}

const metaReentry = "reentry"

func defaultPriority(t notification.Type) notification.Priority {
	switch t {
	case notification.TypeBreakingNews:
		return notification.PriorityCritical
	case notification.TypeSystem:
		return notification.PriorityHigh
	case notification.TypeRecommendation, notification.TypeDigest:
		return notification.PriorityMedium
	default:
		return notification.PriorityLow
	}
}
