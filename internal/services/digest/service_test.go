package digest

import (
	"fmt"
	"testing"
	"time"

	"smartpush/internal/notification"
	logx "smartpush/pkg/logx"
)

func testService(t *testing.T) (*Service, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	s := New(Config{Enabled: true}, logx.Nop())
	s.now = func() time.Time { return now }
	return s, now
}

func social(id, contentID string, at time.Time) notification.Notification {
	return notification.Notification{
		ID:        id,
		UserID:    "u1",
		Type:      notification.TypeSocialInteraction,
		Prio:      notification.PriorityLow,
		Title:     fmt.Sprintf("Someone reacted to your post (%s)", id),
		ContentID: contentID,
		CreatedAt: at,
	}
}

func TestSocialBurstBecomesOneGroup(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	var pending []notification.Notification
	for i := 0; i < 5; i++ {
		pending = append(pending, social(fmt.Sprintf("n%d", i), "post-1", now.Add(-time.Duration(5-i)*time.Minute)))
	}

	groups := s.Aggregate("u1", pending)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if len(g.Notifications) != 5 || g.Summary.Count != 5 {
		t.Fatalf("group size = %d (summary %d), want 5", len(g.Notifications), g.Summary.Count)
	}
	if g.Strategy != notification.GroupSmart {
		t.Fatalf("strategy = %s, want smart", g.Strategy)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	var pending []notification.Notification
	for i := 0; i < 5; i++ {
		pending = append(pending, social(fmt.Sprintf("n%d", i), "post-1", now))
	}
	if groups := s.Aggregate("u1", pending); len(groups) != 1 {
		t.Fatalf("first run: got %d groups, want 1", len(groups))
	}
	if groups := s.Aggregate("u1", nil); len(groups) != 0 {
		t.Fatalf("second run re-grouped consumed items: %d groups", len(groups))
	}
}

func TestBreakingNewsClustersByTokens(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	mk := func(id, title, category string) notification.Notification {
		n := notification.Notification{
			ID:        id,
			UserID:    "u1",
			Type:      notification.TypeBreakingNews,
			Prio:      notification.PriorityCritical,
			Title:     title,
			CreatedAt: now,
		}
		if category != "" {
			n.Meta = map[string]string{"category": category}
		}
		return n
	}

	pending := []notification.Notification{
		mk("a", "Earthquake strikes coastal region overnight", ""),
		mk("b", "Earthquake coastal region: rescue teams deployed", ""),
		mk("c", "Parliament passes budget bill", ""),
	}

	groups := s.Aggregate("u1", pending)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2 (quake cluster + single)", len(groups))
	}
	var cluster notification.Group
	for _, g := range groups {
		if len(g.Notifications) == 2 {
			cluster = g
		}
	}
	if len(cluster.Notifications) != 2 {
		t.Fatal("quake stories not clustered together")
	}
	if cluster.Prio != notification.PriorityCritical {
		t.Fatalf("cluster priority = %s, want critical", cluster.Prio)
	}
	if cluster.Summary.Title == "" {
		t.Fatal("smart summary missing title")
	}
}

func TestByTypeRunSplitAndChunk(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	mk := func(id string, at time.Time) notification.Notification {
		return notification.Notification{
			ID:        id,
			UserID:    "u1",
			Type:      notification.TypeAchievement,
			Prio:      notification.PriorityLow,
			Title:     "Badge unlocked",
			CreatedAt: at,
		}
	}

	// Seven achievements in one run: max size 5 splits them 5+2.
	var pending []notification.Notification
	for i := 0; i < 7; i++ {
		pending = append(pending, mk(fmt.Sprintf("a%d", i), now.Add(time.Duration(i)*time.Minute)))
	}
	// An eighth far outside the window starts its own run.
	pending = append(pending, mk("a7", now.Add(-3*time.Hour)))

	groups := s.Aggregate("u1", pending)

	sizes := map[int]int{}
	total := 0
	for _, g := range groups {
		sizes[len(g.Notifications)]++
		total += len(g.Notifications)
	}
	if total != 8 {
		t.Fatalf("notifications across groups = %d, want 8", total)
	}
	if sizes[5] != 1 || sizes[2] != 1 || sizes[1] != 1 {
		t.Fatalf("group sizes = %v, want one of 5, one of 2, one of 1", sizes)
	}
}

func TestGroupsSortedByPriority(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	low := social("s1", "post-1", now)
	low2 := social("s2", "post-1", now)
	urgent := notification.Notification{
		ID:        "b1",
		UserID:    "u1",
		Type:      notification.TypeBreakingNews,
		Prio:      notification.PriorityCritical,
		Title:     "Major outage reported",
		CreatedAt: now,
	}

	groups := s.Aggregate("u1", []notification.Notification{low, low2, urgent})
	if len(groups) < 2 {
		t.Fatalf("got %d groups, want at least 2", len(groups))
	}
	if groups[0].Prio != notification.PriorityCritical {
		t.Fatalf("first group priority = %s, want critical", groups[0].Prio)
	}
}

func TestBufferExpires(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	// Types outside every rule's conditions stay buffered unconsumed.
	n := notification.Notification{
		ID:        "d1",
		UserID:    "u1",
		Type:      notification.TypeDigest,
		CreatedAt: now,
	}
	s.Aggregate("u1", []notification.Notification{n})
	if got := s.Buffered("u1"); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}

	s.now = func() time.Time { return now.Add(bufferTTL + time.Minute) }
	s.Prune()
	if got := s.Buffered("u1"); got != 0 {
		t.Fatalf("buffered after expiry = %d, want 0", got)
	}
}

func TestDisabledPassthrough(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())

	pending := []notification.Notification{
		social("s1", "post-1", time.Now()),
		social("s2", "post-1", time.Now()),
	}
	groups := s.Aggregate("u1", pending)
	if len(groups) != 2 {
		t.Fatalf("passthrough made %d groups, want 2 singletons", len(groups))
	}
	for _, g := range groups {
		if len(g.Notifications) != 1 {
			t.Fatal("passthrough must not merge")
		}
	}
}
