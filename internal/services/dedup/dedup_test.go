package dedup

import (
	"context"
	"strings"
	"testing"
	"time"

	"smartpush/internal/notification"
	logx "smartpush/pkg/logx"
)

func testEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	e := New(Config{Enabled: true}, nil, logx.Nop())
	e.now = func() time.Time { return now }
	return e, &now
}

func notif(id, userID string, typ notification.Type, title string, at time.Time) notification.Notification {
	return notification.Notification{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Title:     title,
		CreatedAt: at,
		SentAt:    at,
	}
}

func TestExactRepeatBlocked(t *testing.T) {
	t.Parallel()
	e, _ := testEngine(t)
	ctx := context.Background()

	n := notif("n1", "u1", notification.TypeSocialInteraction, "Ann liked your post", time.Time{})
	n.ContentID = "c1"

	if v := e.IsDuplicate(ctx, n, nil); v.IsDuplicate {
		t.Fatalf("first occurrence flagged: %s", v.Reason)
	}
	v := e.IsDuplicate(ctx, n, nil)
	if !v.IsDuplicate {
		t.Fatal("identical repeat must be flagged")
	}
	if v.Reason == "" || v.Suggestion == "" {
		t.Fatalf("verdict missing reason or suggestion: %+v", v)
	}
}

func TestExactWindowExpires(t *testing.T) {
	t.Parallel()
	e, now := testEngine(t)
	ctx := context.Background()

	n := notif("n1", "u1", notification.TypeSocialInteraction, "Ann liked your post", time.Time{})
	n.ContentID = "c1"

	e.IsDuplicate(ctx, n, nil)
	// The fingerprint stays alive for seven days but the social rule
	// only blocks inside its one hour window.
	*now = now.Add(time.Hour + time.Minute)
	if v := e.IsDuplicate(ctx, n, nil); v.IsDuplicate {
		t.Fatalf("fingerprint outside the rule window still blocking: %s", v.Reason)
	}
}

func TestBreakingNewsTimeBased(t *testing.T) {
	t.Parallel()
	e, now := testEngine(t)
	ctx := context.Background()

	prior := notif("n1", "u1", notification.TypeBreakingNews, "Quake hits coast", now.Add(-5*time.Minute))
	prior.ContentID = "story-9"

	cand := notif("n2", "u1", notification.TypeBreakingNews, "Quake hits coast: update", time.Time{})
	cand.ContentID = "story-9"

	v := e.IsDuplicate(ctx, cand, []notification.Notification{prior})
	if !v.IsDuplicate {
		t.Fatal("same story within 10 minutes must be a duplicate")
	}
	if len(v.Matches) != 1 || v.Matches[0].NotificationID != "n1" {
		t.Fatalf("matches = %+v, want prior n1", v.Matches)
	}
	if !strings.Contains(v.Suggestion, "wait") {
		t.Fatalf("suggestion should carry remaining wait, got %q", v.Suggestion)
	}

	// Outside the window the same story may repeat.
	*now = now.Add(10 * time.Minute)
	if v := e.IsDuplicate(ctx, cand, []notification.Notification{prior}); v.IsDuplicate {
		t.Fatalf("story outside the window flagged: %s", v.Reason)
	}
}

func TestSimilarityTopMatches(t *testing.T) {
	t.Parallel()
	e, now := testEngine(t)
	ctx := context.Background()

	recent := []notification.Notification{
		notif("a", "u1", notification.TypeRecommendation, "Five great hiking trails near the city", now.Add(-time.Hour)),
		notif("b", "u1", notification.TypeRecommendation, "Great hiking trails close to the city center", now.Add(-2*time.Hour)),
		notif("c", "u1", notification.TypeRecommendation, "Stock markets rally after rate cut", now.Add(-time.Hour)),
	}
	cand := notif("d", "u1", notification.TypeRecommendation, "Great hiking trails near the city", time.Time{})

	v := e.IsDuplicate(ctx, cand, recent)
	if !v.IsDuplicate {
		t.Fatal("near-identical recommendation must be flagged")
	}
	for _, m := range v.Matches {
		if m.NotificationID == "c" {
			t.Fatal("unrelated notification ranked as a match")
		}
	}
	if len(v.Matches) == 0 || v.Matches[0].Similarity < 0.5 {
		t.Fatalf("expected a strong top match, got %+v", v.Matches)
	}
	for i := 1; i < len(v.Matches); i++ {
		if v.Matches[i].Similarity > v.Matches[i-1].Similarity {
			t.Fatal("matches not sorted by similarity")
		}
	}
}

func TestDistinctRecommendationPasses(t *testing.T) {
	t.Parallel()
	e, now := testEngine(t)
	ctx := context.Background()

	recent := []notification.Notification{
		notif("a", "u1", notification.TypeRecommendation, "Stock markets rally after rate cut", now.Add(-time.Hour)),
	}
	cand := notif("b", "u1", notification.TypeRecommendation, "Five great hiking trails near the city", time.Time{})
	if v := e.IsDuplicate(ctx, cand, recent); v.IsDuplicate {
		t.Fatalf("unrelated content flagged: %s", v.Reason)
	}
}

func TestCategoryPressure(t *testing.T) {
	t.Parallel()
	e, now := testEngine(t)
	ctx := context.Background()

	var recent []notification.Notification
	for i, id := range []string{"a", "b", "c"} {
		n := notif(id, "u1", notification.TypeDigest, "digest", now.Add(-time.Duration(i+1)*time.Hour))
		n.Meta = map[string]string{"category": "sports"}
		recent = append(recent, n)
	}
	cand := notif("d", "u1", notification.TypeDigest, "digest", time.Time{})
	cand.Meta = map[string]string{"category": "sports"}

	v := e.IsDuplicate(ctx, cand, recent)
	if !v.IsDuplicate {
		t.Fatal("fourth sports digest in the window must be flagged")
	}
	if len(v.Matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(v.Matches))
	}

	// A different category is unaffected.
	cand.Meta["category"] = "science"
	if v := e.IsDuplicate(ctx, cand, recent); v.IsDuplicate {
		t.Fatalf("different category flagged: %s", v.Reason)
	}
}

func TestUsersDoNotShareFingerprints(t *testing.T) {
	t.Parallel()
	e, _ := testEngine(t)
	ctx := context.Background()

	a := notif("n1", "alice", notification.TypeSocialInteraction, "Bob liked your post", time.Time{})
	b := notif("n2", "bob", notification.TypeSocialInteraction, "Bob liked your post", time.Time{})

	e.IsDuplicate(ctx, a, nil)
	if v := e.IsDuplicate(ctx, b, nil); v.IsDuplicate {
		t.Fatalf("fingerprints leaked across users: %s", v.Reason)
	}
}

func TestDisabledNeverFlags(t *testing.T) {
	t.Parallel()
	e := New(Config{Enabled: false}, nil, logx.Nop())
	n := notif("n1", "u1", notification.TypeSocialInteraction, "hello", time.Time{})
	for i := 0; i < 3; i++ {
		if v := e.IsDuplicate(context.Background(), n, nil); v.IsDuplicate {
			t.Fatal("disabled engine must not flag")
		}
	}
}
