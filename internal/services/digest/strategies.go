package digest

import (
	"sort"
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/textsim"
)

// strategyChunks implements the non-smart strategies: partition matches
// by the strategy's key, order each partition by time, split it into
// runs where consecutive items are at most one window apart, and chunk
// runs to the rule's max size.
func strategyChunks(matched []*entry, rule Rule) [][]*entry {
	partitions := map[string][]*entry{}
	var order []string
	for _, e := range matched {
		k := partitionKey(rule.Strategy, e.n)
		if _, ok := partitions[k]; !ok {
			order = append(order, k)
		}
		partitions[k] = append(partitions[k], e)
	}

	var chunks [][]*entry
	for _, k := range order {
		p := partitions[k]
		sort.SliceStable(p, func(i, j int) bool {
			return p[i].n.CreatedAt.Before(p[j].n.CreatedAt)
		})
		for _, run := range splitRuns(p, rule.Window) {
			chunks = append(chunks, chunkBySize(run, rule.MaxSize)...)
		}
	}
	return chunks
}

func partitionKey(strategy notification.GroupStrategy, n notification.Notification) string {
	switch strategy {
	case notification.GroupByType:
		return string(n.Type)
	case notification.GroupByCategory:
		return n.Meta["category"]
	case notification.GroupByAuthor:
		return n.Meta["author"]
	default: // by_time: one shared partition
		return ""
	}
}

func splitRuns(sorted []*entry, window time.Duration) [][]*entry {
	var runs [][]*entry
	var cur []*entry
	for i, e := range sorted {
		if i > 0 && e.n.CreatedAt.Sub(sorted[i-1].n.CreatedAt) > window {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, e)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func chunkBySize(run []*entry, max int) [][]*entry {
	if max <= 0 {
		return [][]*entry{run}
	}
	var chunks [][]*entry
	for len(run) > max {
		chunks = append(chunks, run[:max])
		run = run[max:]
	}
	if len(run) > 0 {
		chunks = append(chunks, run)
	}
	return chunks
}

// smartChunks runs three clustering passes over the matched set and
// leaves whatever remains as singletons.
func smartChunks(matched []*entry, rule Rule) [][]*entry {
	remaining := append([]*entry(nil), matched...)
	var chunks [][]*entry

	// Pass 1: breaking news sharing a category or enough title tokens.
	var breaking []*entry
	remaining, breaking = take(remaining, notification.TypeBreakingNews)
	for _, cluster := range clusterBreaking(breaking) {
		chunks = append(chunks, chunkBySize(cluster, rule.MaxSize)...)
	}

	// Pass 2: social interactions about the same content.
	var social []*entry
	remaining, social = take(remaining, notification.TypeSocialInteraction)
	for _, cluster := range clusterByContent(social) {
		chunks = append(chunks, chunkBySize(cluster, rule.MaxSize)...)
	}

	// Pass 3: recommendations with overlapping titles.
	var recs []*entry
	remaining, recs = take(remaining, notification.TypeRecommendation)
	for _, cluster := range clusterBySimilarity(recs, recommendJaccardMin) {
		chunks = append(chunks, chunkBySize(cluster, rule.MaxSize)...)
	}

	for _, e := range remaining {
		chunks = append(chunks, []*entry{e})
	}
	return chunks
}

func take(es []*entry, typ notification.Type) (rest, taken []*entry) {
	for _, e := range es {
		if e.n.Type == typ {
			taken = append(taken, e)
		} else {
			rest = append(rest, e)
		}
	}
	return rest, taken
}

func clusterBreaking(es []*entry) [][]*entry {
	return greedyCluster(es, func(a, b *entry) bool {
		ca, cb := a.n.Meta["category"], b.n.Meta["category"]
		if ca != "" && ca == cb {
			return true
		}
		shared := textsim.SharedTokens(
			textsim.Tokenize(a.n.Title),
			textsim.Tokenize(b.n.Title),
		)
		return shared >= sharedTitleTokens
	})
}

func clusterByContent(es []*entry) [][]*entry {
	return greedyCluster(es, func(a, b *entry) bool {
		return a.n.ContentID != "" && a.n.ContentID == b.n.ContentID
	})
}

func clusterBySimilarity(es []*entry, min float64) [][]*entry {
	return greedyCluster(es, func(a, b *entry) bool {
		return textsim.Jaccard(
			textsim.Tokenize(a.n.Title),
			textsim.Tokenize(b.n.Title),
		) > min
	})
}

// greedyCluster seeds a cluster from the first unassigned item and pulls
// in every later item related to the seed. Singleton clusters are
// returned too; the caller decides what to do with them.
func greedyCluster(es []*entry, related func(a, b *entry) bool) [][]*entry {
	var clusters [][]*entry
	used := make([]bool, len(es))
	for i := range es {
		if used[i] {
			continue
		}
		cluster := []*entry{es[i]}
		used[i] = true
		for j := i + 1; j < len(es); j++ {
			if used[j] {
				continue
			}
			if related(es[i], es[j]) {
				cluster = append(cluster, es[j])
				used[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// mergeSingletons folds two or more single-notification groups of the
// same type into one group per type.
func mergeSingletons(groups []notification.Group) []notification.Group {
	singles := map[notification.Type][]int{}
	for i, g := range groups {
		if len(g.Notifications) == 1 {
			t := g.Notifications[0].Type
			singles[t] = append(singles[t], i)
		}
	}

	drop := map[int]bool{}
	var merged []notification.Group
	for _, idxs := range singles {
		if len(idxs) < 2 {
			continue
		}
		g := notification.Group{
			ID:        groups[idxs[0]].ID,
			UserID:    groups[idxs[0]].UserID,
			Strategy:  notification.GroupByType,
			CreatedAt: groups[idxs[0]].CreatedAt,
		}
		for _, i := range idxs {
			g.Notifications = append(g.Notifications, groups[i].Notifications[0])
			drop[i] = true
		}
		g.DerivePriority()
		g.Summary = summarize(g.Strategy, g.Notifications)
		merged = append(merged, g)
	}
	if len(drop) == 0 {
		return groups
	}

	out := merged
	for i, g := range groups {
		if !drop[i] {
			out = append(out, g)
		}
	}
	return out
}
