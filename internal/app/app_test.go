package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"smartpush/internal/behavior"
	"smartpush/internal/content"
	"smartpush/internal/eventbus"
	"smartpush/internal/notification"
	"smartpush/internal/orchestrator"
	"smartpush/internal/profile"
)

const testConfig = `{
  "logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "memory", "path": ""},
  "scheduler": {"enabled": false},
  "rate_limit": {"enabled": true, "adaptive": {}},
  "dedup": {"enabled": true},
  "digest": {"enabled": false},
  "dispatch": {"enabled": true, "workers": 1},
  "pipeline": {"schedule_ahead": "48h"},
  "behavior": {},
  "profile": {}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

type recordingProvider struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (p *recordingProvider) Send(_ context.Context, _ profile.Channel, n notification.Notification) error {
	p.mu.Lock()
	p.sent = append(p.sent, n)
	p.mu.Unlock()
	return nil
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func newTestApp(t *testing.T, prov *recordingProvider) *App {
	t.Helper()
	a, err := NewApp(writeConfig(t, testConfig), Options{Provider: prov})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopReasonManual)
	})
	return a
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{"bad duration", strings.Replace(testConfig, `"schedule_ahead": "48h"`, `"schedule_ahead": "soon"`, 1)},
		{"unknown driver", strings.Replace(testConfig, `"driver": "memory"`, `"driver": "bolt"`, 1)},
		{"engagement out of range", strings.Replace(testConfig, `"adaptive": {}`, `"adaptive": {"low_engagement": 2}`, 1)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewApp(writeConfig(t, tc.body), Options{}); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestCreateAndSendDelivers(t *testing.T) {
	t.Parallel()
	prov := &recordingProvider{}
	a := newTestApp(t, prov)

	a.Contents().Put(content.Item{
		ID:          "story-1",
		Category:    "technology",
		Quality:     0.8,
		PublishedAt: time.Now().Add(-10 * time.Minute),
		Author:      "ana",
	})

	out, err := a.CreateAndSend(context.Background(), orchestrator.CreateRequest{
		UserID:    "u1",
		Type:      notification.TypeBreakingNews,
		ContentID: "story-1",
		Custom:    map[string]string{"title": "Outage resolved", "message": "Service restored"},
	})
	if err != nil {
		t.Fatalf("CreateAndSend: %v", err)
	}
	if out.Notification.Status != notification.StatusSent {
		t.Fatalf("status = %s, want %s", out.Notification.Status, notification.StatusSent)
	}
	if len(out.Deliveries) == 0 {
		t.Fatal("no delivery results")
	}
	if prov.count() == 0 {
		t.Fatal("provider saw no sends")
	}
}

func TestTrackRejectsInvalidEvent(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &recordingProvider{})

	_, err := a.Track(context.Background(), behavior.Event{
		UserID: "u1",
		Type:   behavior.EventPageView,
		At:     time.Now(),
	})
	if err == nil {
		t.Fatal("event without session id must be rejected")
	}
}

func TestTrackBuildsLiveState(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &recordingProvider{})

	now := time.Now()
	for i, typ := range []behavior.EventType{
		behavior.EventSessionStart, behavior.EventPageView, behavior.EventReadStart,
	} {
		_, err := a.Track(context.Background(), behavior.Event{
			UserID:    "reader",
			SessionID: "s1",
			Type:      typ,
			ContentID: "story-1",
			At:        now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Track %s: %v", typ, err)
		}
	}
	if _, ok := a.Engagement("reader"); !ok {
		t.Fatal("no live engagement state after tracking")
	}
}

func TestSessionEndFeedsProfileRecompute(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &recordingProvider{})
	ctx := context.Background()

	a.Contents().Put(content.Item{
		ID:        "story-2",
		Category:  "science",
		Tags:      []string{"space"},
		Quality:   0.9,
		WordCount: 900,
	})

	now := time.Now()
	evs := []behavior.Event{
		{UserID: "reader", SessionID: "s2", Type: behavior.EventReadStart, ContentID: "story-2", At: now},
		{UserID: "reader", SessionID: "s2", Type: behavior.EventReadProgress, ContentID: "story-2", At: now.Add(30 * time.Second),
			Meta: behavior.EventMetadata{ScrollPosition: 0.6}},
		{UserID: "reader", SessionID: "s2", Type: behavior.EventReadComplete, ContentID: "story-2", At: now.Add(2 * time.Minute),
			Meta: behavior.EventMetadata{ScrollPosition: 1.0}},
		{UserID: "reader", SessionID: "s2", Type: behavior.EventSessionEnd, ContentID: "story-2", At: now.Add(2*time.Minute + time.Second)},
	}
	for _, e := range evs {
		if _, err := a.Track(ctx, e); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	if err := a.recomputeProfiles(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	p, ok, err := a.Profile(ctx, "reader")
	if err != nil || !ok {
		t.Fatalf("profile not stored: ok=%v err=%v", ok, err)
	}
	if len(p.Interests) == 0 {
		t.Fatal("recompute produced no interests")
	}
	if p.UpdatedAt.IsZero() {
		t.Fatal("profile UpdatedAt not set")
	}
}

func TestRecordFeedbackPublishes(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &recordingProvider{})

	events, unsub := a.Bus().Subscribe(16)
	defer unsub()

	a.RecordFeedback("u9", "n1", true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.TypeFeedback {
				continue
			}
			fb, ok := e.Data.(Feedback)
			if !ok {
				t.Fatalf("unexpected payload %T", e.Data)
			}
			if fb.UserID != "u9" || !fb.Positive {
				t.Fatalf("payload = %+v", fb)
			}
			return
		case <-deadline:
			t.Fatal("feedback event not observed")
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	a, err := NewApp(writeConfig(t, testConfig), Options{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopReasonManual); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Stop(ctx, StopReasonManual); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
