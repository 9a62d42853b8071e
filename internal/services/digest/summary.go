package digest

import (
	"fmt"
	"sort"
	"strings"

	"smartpush/internal/notification"
)

func summarize(strategy notification.GroupStrategy, ns []notification.Notification) notification.GroupSummary {
	sum := notification.GroupSummary{Count: len(ns)}
	if len(ns) == 0 {
		return sum
	}
	if len(ns) == 1 {
		sum.Title = ns[0].Title
		sum.Message = ns[0].Message
		return sum
	}

	sum.Categories = metaValues(ns, "category")
	sum.Authors = metaValues(ns, "author")

	switch strategy {
	case notification.GroupByCategory:
		sum.Title = fmt.Sprintf("%d updates in %s", len(ns), joinOr(sum.Categories, "your topics"))
		sum.Message = fmt.Sprintf("%d new notifications grouped by category", len(ns))
	case notification.GroupByAuthor:
		sum.Title = fmt.Sprintf("%d updates from %s", len(ns), joinOr(sum.Authors, "authors you follow"))
		sum.Message = fmt.Sprintf("%d new notifications grouped by author", len(ns))
	case notification.GroupByTime:
		sum.Title = fmt.Sprintf("%d notifications while you were away", len(ns))
		sum.Message = fmt.Sprintf("A burst of %d notifications arrived close together", len(ns))
	case notification.GroupSmart:
		sum.Title = smartTitle(ns)
		sum.Message = fmt.Sprintf("%d related notifications", len(ns))
	default: // by_type
		sum.Title = fmt.Sprintf("%d new %s notifications", len(ns), typeLabel(ns[0].Type))
		sum.Message = fmt.Sprintf("You have %d new %s notifications", len(ns), typeLabel(ns[0].Type))
	}
	return sum
}

// smartTitle leads with the first breaking-news headline when present
// and appends the residual count; otherwise it falls back to a plain
// count by type.
func smartTitle(ns []notification.Notification) string {
	for _, n := range ns {
		if n.Type == notification.TypeBreakingNews {
			rest := len(ns) - 1
			if rest == 0 {
				return n.Title
			}
			return fmt.Sprintf("%s and %d more update(s)", n.Title, rest)
		}
	}
	return fmt.Sprintf("%d new %s notifications", len(ns), typeLabel(ns[0].Type))
}

func typeLabel(t notification.Type) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func metaValues(ns []notification.Notification, key string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range ns {
		v := n.Meta[key]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func joinOr(vals []string, fallback string) string {
	if len(vals) == 0 {
		return fallback
	}
	return strings.Join(vals, ", ")
}
