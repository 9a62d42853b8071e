package ratelimit

import (
	"context"
	"testing"
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/profile"
	logx "smartpush/pkg/logx"
)

func testService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := New(Config{Enabled: true}, nil, logx.Nop())
	s.now = func() time.Time { return now }
	return s, &now
}

func req(userID string) Request {
	return Request{
		UserID:   userID,
		Type:     notification.TypeRecommendation,
		Priority: notification.PriorityMedium,
		Channel:  profile.ChannelInApp,
	}
}

func TestHourlyCapBlocks(t *testing.T) {
	t.Parallel()
	s, now := testService(t)
	ctx := context.Background()

	// Default user budget allows 30 per hour. The type budget for
	// recommendations is tighter, so use a type without one.
	r := req("u1")
	r.Type = notification.TypeSocialInteraction

	for i := 0; i < 30; i++ {
		d := s.ShouldSend(ctx, r)
		if !d.Allowed {
			t.Fatalf("send %d unexpectedly blocked: %s", i+1, d.Reason)
		}
		*now = now.Add(time.Minute)
	}

	d := s.ShouldSend(ctx, r)
	if d.Allowed {
		t.Fatal("31st send within the hour should be blocked")
	}
	if d.RetryAfterSec <= 0 {
		t.Fatalf("blocked decision must carry retryAfterSec, got %v", d.RetryAfterSec)
	}
	if d.Quota.Used != 30 || d.Quota.Limit != 30 {
		t.Fatalf("quota = %+v, want used=30 limit=30", d.Quota)
	}
	if d.Quota.ResetAt.IsZero() {
		t.Fatal("quota resetAt not set")
	}
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()
	s, now := testService(t)
	ctx := context.Background()
	r := req("u2")
	r.Type = notification.TypeSocialInteraction

	for i := 0; i < 30; i++ {
		if d := s.ShouldSend(ctx, r); !d.Allowed {
			t.Fatalf("send %d blocked: %s", i+1, d.Reason)
		}
	}
	if d := s.ShouldSend(ctx, r); d.Allowed {
		t.Fatal("expected block at cap")
	}

	*now = now.Add(time.Hour + time.Second)
	if d := s.ShouldSend(ctx, r); !d.Allowed {
		t.Fatalf("window should have reset, got block: %s", d.Reason)
	}
}

func TestCriticalBreakingNewsBypassesUserBudget(t *testing.T) {
	t.Parallel()
	s, _ := testService(t)
	ctx := context.Background()

	r := req("u3")
	r.Type = notification.TypeBreakingNews
	r.Priority = notification.PriorityCritical

	// Well past the user hourly budget; the exception keeps allowing.
	for i := 0; i < 40; i++ {
		if d := s.ShouldSend(ctx, r); !d.Allowed {
			t.Fatalf("critical breaking news blocked at %d: %s", i+1, d.Reason)
		}
	}

	// Same type at medium priority does not qualify for the bypass.
	r.Priority = notification.PriorityMedium
	if d := s.ShouldSend(ctx, r); d.Allowed {
		t.Fatal("medium priority should not bypass the user budget")
	}
}

func TestTypeBudget(t *testing.T) {
	t.Parallel()
	s, now := testService(t)
	ctx := context.Background()
	r := req("u4")
	r.Type = notification.TypeReEngagement

	if d := s.ShouldSend(ctx, r); !d.Allowed {
		t.Fatalf("first re-engagement blocked: %s", d.Reason)
	}
	d := s.ShouldSend(ctx, r)
	if d.Allowed {
		t.Fatal("second re-engagement within a day should be blocked")
	}
	if d.Rule != "re_engagement_budget" {
		t.Fatalf("blocking rule = %q, want re_engagement_budget", d.Rule)
	}

	*now = now.Add(25 * time.Hour)
	if d := s.ShouldSend(ctx, r); !d.Allowed {
		t.Fatalf("re-engagement after a day blocked: %s", d.Reason)
	}
}

func TestProfileMaxPerDayTightensUserBudget(t *testing.T) {
	t.Parallel()
	s, now := testService(t)
	ctx := context.Background()

	p := profile.New("u8", *now)
	p.Notifications.MaxPerDay = 2

	r := req("u8")
	r.Type = notification.TypeSocialInteraction
	r.Profile = p

	for i := 0; i < 2; i++ {
		if d := s.ShouldSend(ctx, r); !d.Allowed {
			t.Fatalf("send %d blocked: %s", i+1, d.Reason)
		}
	}
	d := s.ShouldSend(ctx, r)
	if d.Allowed {
		t.Fatal("third send should exceed the profile's daily cap")
	}
	if d.Rule != "user_budget" {
		t.Fatalf("blocking rule = %q, want user_budget", d.Rule)
	}
	if d.Quota.Limit != 2 {
		t.Fatalf("quota limit = %d, want the profile cap 2", d.Quota.Limit)
	}

	// Without the preference the default daily budget applies.
	r.Profile = nil
	if d := s.ShouldSend(ctx, r); !d.Allowed {
		t.Fatalf("preference-free request blocked: %s", d.Reason)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	t.Parallel()
	s, _ := testService(t)
	ctx := context.Background()

	a := req("alice")
	a.Type = notification.TypeSocialInteraction
	b := req("bob")
	b.Type = notification.TypeSocialInteraction

	for i := 0; i < 30; i++ {
		if d := s.ShouldSend(ctx, a); !d.Allowed {
			t.Fatalf("alice send %d blocked: %s", i+1, d.Reason)
		}
	}
	if d := s.ShouldSend(ctx, a); d.Allowed {
		t.Fatal("alice should be at her budget")
	}
	if d := s.ShouldSend(ctx, b); !d.Allowed {
		t.Fatalf("bob should be unaffected by alice's budget: %s", d.Reason)
	}
}

func TestAdaptiveHalvesOnLowEngagement(t *testing.T) {
	t.Parallel()
	s, _ := testService(t)

	if got := s.CurrentLimit("u5"); got != 30 {
		t.Fatalf("seed limit = %d, want 30", got)
	}
	// Ten ignored notifications in a row drops engagement to 0.
	for i := 0; i < 10; i++ {
		s.RecordEngagement("u5", false)
	}
	if got := s.CurrentLimit("u5"); got != 15 {
		t.Fatalf("limit after low engagement = %d, want 15", got)
	}
}

func TestAdaptiveDailyNudge(t *testing.T) {
	t.Parallel()
	s, now := testService(t)

	for i := 0; i < 12; i++ {
		s.RecordEngagement("u6", true)
	}
	*now = now.Add(25 * time.Hour)
	s.AdjustDaily()
	if got := s.CurrentLimit("u6"); got != 33 {
		t.Fatalf("limit after healthy day = %d, want 33", got)
	}

	// A second pass inside the same day is a no-op.
	s.AdjustDaily()
	if got := s.CurrentLimit("u6"); got != 33 {
		t.Fatalf("second same-day adjust changed limit to %d", got)
	}
}

func TestDisabledAllowsEverything(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, nil, logx.Nop())
	for i := 0; i < 200; i++ {
		if d := s.ShouldSend(context.Background(), req("u7")); !d.Allowed {
			t.Fatal("disabled limiter must allow")
		}
	}
}
