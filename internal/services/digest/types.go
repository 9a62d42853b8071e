package digest

import (
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/rules"
)

const (
	bufferTTL = 4 * time.Hour

	// Smart-pass thresholds.
	sharedTitleTokens   = 3
	recommendJaccardMin = 0.3
)

// Rule matches buffered notifications and says how to fold them.
type Rule struct {
	Name       string                     `yaml:"name" json:"name"`
	Conditions []rules.Condition          `yaml:"conditions" json:"conditions,omitempty"`
	Strategy   notification.GroupStrategy `yaml:"strategy" json:"strategy"`
	MaxSize    int                        `yaml:"max_size" json:"maxSize"`
	Window     time.Duration              `yaml:"window" json:"window"`
}

// Config holds the ordered rule list.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Rules   []Rule `yaml:"rules" json:"rules,omitempty"`
}

// DefaultRules folds the chatty notification types and leaves the rest
// alone.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "realtime_smart",
			Conditions: []rules.Condition{{
				Field: "type",
				Op:    rules.OpIn,
				Value: []string{
					string(notification.TypeBreakingNews),
					string(notification.TypeSocialInteraction),
					string(notification.TypeRecommendation),
				},
			}},
			Strategy: notification.GroupSmart,
			MaxSize:  10,
			Window:   time.Hour,
		},
		{
			Name:       "achievements",
			Conditions: []rules.Condition{{Field: "type", Op: rules.OpEq, Value: string(notification.TypeAchievement)}},
			Strategy:   notification.GroupByType,
			MaxSize:    5,
			Window:     2 * time.Hour,
		},
		{
			Name:       "system_burst",
			Conditions: []rules.Condition{{Field: "type", Op: rules.OpEq, Value: string(notification.TypeSystem)}},
			Strategy:   notification.GroupByTime,
			MaxSize:    10,
			Window:     30 * time.Minute,
		},
	}
}

type entry struct {
	n        notification.Notification
	addedAt  time.Time
	consumed bool
}

func notifFields(n notification.Notification) rules.Fields {
	f := rules.Fields{
		"type":      string(n.Type),
		"priority":  string(n.Prio),
		"contentId": n.ContentID,
	}
	if n.Meta != nil {
		if c := n.Meta["category"]; c != "" {
			f["category"] = c
		}
		if a := n.Meta["author"]; a != "" {
			f["author"] = a
		}
		if tags := n.Meta["tags"]; tags != "" {
			f["tags"] = tags
		}
	}
	return f
}
