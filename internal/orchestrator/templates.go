package orchestrator

import (
	"context"
	"strings"

	"smartpush/internal/content"
	"smartpush/internal/notification"
)

var defaultTemplates = map[notification.Type]Template{
	notification.TypeBreakingNews: {
		Title:   "Breaking: {title}",
		Message: "{message}",
	},
	notification.TypeRecommendation: {
		Title:   "Recommended for you: {title}",
		Message: "Based on your interest in {category}: {message}",
	},
	notification.TypeSocialInteraction: {
		Title:   "{author} {action}",
		Message: "{message}",
	},
	notification.TypeDigest: {
		Title:   "Your {category} digest",
		Message: "{message}",
	},
	notification.TypeReEngagement: {
		Title:   "We miss you",
		Message: "New in {category} since your last visit: {title}",
	},
	notification.TypeAchievement: {
		Title:   "Achievement unlocked: {achievement}",
		Message: "{message}",
	},
	notification.TypeSystem: {
		Title:   "{title}",
		Message: "{message}",
	},
}

func (o *Orchestrator) template(ctx context.Context, typ notification.Type) Template {
	if o.templates != nil {
		t, ok, err := o.templates.Get(ctx, typ)
		if err == nil && ok {
			return t
		}
	}
	if t, ok := defaultTemplates[typ]; ok {
		return t
	}
	return Template{Title: "{title}", Message: "{message}"}
}

// personalize substitutes {placeholder} markers from content fields and
// the request's custom data. Custom data wins over content-derived
// values; unresolved placeholders are removed.
func personalize(t Template, it content.Item, custom map[string]string) (title, message string) {
	vals := map[string]string{
		"title":       "",
		"category":    it.Category,
		"author":      it.Author,
		"message":     "",
		"action":      "",
		"achievement": "",
	}
	for k, v := range custom {
		vals[k] = v
	}
	return substitute(t.Title, vals), substitute(t.Message, vals)
}

func substitute(s string, vals map[string]string) string {
	for k, v := range vals {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	// Unknown placeholders collapse instead of leaking into user text.
	for {
		open := strings.Index(s, "{")
		if open < 0 {
			break
		}
		end := strings.Index(s[open:], "}")
		if end < 0 {
			break
		}
		s = s[:open] + s[open+end+1:]
	}
	return strings.Join(strings.Fields(s), " ")
}
