// Package notification defines candidate notifications, their one-way
// status machine, and digest groups.
package notification

import (
	"fmt"
	"time"

	"smartpush/internal/profile"
)

// Type names the kind of notification being considered.
type Type string

const (
	TypeBreakingNews      Type = "breaking_news"
	TypeRecommendation    Type = "recommendation"
	TypeSocialInteraction Type = "social_interaction"
	TypeDigest            Type = "digest"
	TypeReEngagement      Type = "re_engagement"
	TypeAchievement       Type = "achievement"
	TypeSystem            Type = "system"
)

// Priority orders notifications; higher ranks are evaluated first by rate
// rules and win in group priority derivation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to a comparable integer (critical highest).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Status is a one-directional lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusBlocked    Status = "blocked"
	StatusAggregated Status = "aggregated"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusRead       Status = "read"
	StatusFailed     Status = "failed"
)

// validTransitions encodes the one-way status machine. Blocked, aggregated,
// read and failed are terminal; scheduled notifications re-enter the
// pipeline but keep their status until the next decision.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusBlocked, StatusAggregated, StatusSent, StatusFailed},
	StatusScheduled: {StatusBlocked, StatusAggregated, StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead, StatusFailed},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Recommendation is the scorer's verdict.
type Recommendation string

const (
	RecommendSend  Recommendation = "send"
	RecommendDelay Recommendation = "delay"
	RecommendSkip  Recommendation = "skip"
)

// ScoreVector is the seven-component AI score computed at creation and
// reused by later pipeline steps.
type ScoreVector struct {
	Total float64 `json:"total"`

	Relevance float64 `json:"relevance"`
	Timing    float64 `json:"timing"`
	Activity  float64 `json:"activity"`
	Quality   float64 `json:"quality"`
	Social    float64 `json:"social"`
	Sentiment float64 `json:"sentiment"`
	Novelty   float64 `json:"novelty"`

	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons,omitempty"`
	Suggestions    []string       `json:"suggestions,omitempty"`
}

// Notification is one candidate moving through the decision pipeline.
type Notification struct {
	ID     string   `json:"id"`
	UserID string   `json:"user_id"`
	Type   Type     `json:"type"`
	Prio   Priority `json:"priority"`
	Status Status   `json:"status"`

	Title   string `json:"title"`
	Message string `json:"message"`

	ContentID string            `json:"content_id,omitempty"`
	Channels  []profile.Channel `json:"channels,omitempty"`

	Scores ScoreVector `json:"scores"`

	CreatedAt   time.Time `json:"created_at"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	SentAt      time.Time `json:"sent_at,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
}

// Transition moves the notification to the next status or fails loudly if
// the move would go backwards.
func (n *Notification) Transition(to Status) error {
	if n.Status == to {
		return nil
	}
	if !CanTransition(n.Status, to) {
		return fmt.Errorf("notification %s: illegal status transition %s -> %s", n.ID, n.Status, to)
	}
	n.Status = to
	return nil
}

// GroupStrategy names how a digest group was formed.
type GroupStrategy string

const (
	GroupByType     GroupStrategy = "by_type"
	GroupByCategory GroupStrategy = "by_category"
	GroupByAuthor   GroupStrategy = "by_author"
	GroupByTime     GroupStrategy = "by_time"
	GroupSmart      GroupStrategy = "smart"
)

// GroupSummary is the synthesized digest text.
type GroupSummary struct {
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Count      int      `json:"count"`
	Categories []string `json:"categories,omitempty"`
	Authors    []string `json:"authors,omitempty"`
}

// Group bundles notifications delivered as one digest.
type Group struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Strategy      GroupStrategy  `json:"strategy"`
	Notifications []Notification `json:"notifications"`
	Prio          Priority       `json:"priority"`
	Summary       GroupSummary   `json:"summary"`
	CreatedAt     time.Time      `json:"created_at"`
}

// DerivePriority sets the group's priority to the max of its members.
func (g *Group) DerivePriority() {
	best := PriorityLow
	for _, n := range g.Notifications {
		if n.Prio.Rank() > best.Rank() {
			best = n.Prio
		}
	}
	g.Prio = best
}
