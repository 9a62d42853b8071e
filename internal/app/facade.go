package app

import (
	"context"
	"sync"
	"time"

	"smartpush/internal/behavior"
	"smartpush/internal/content"
	"smartpush/internal/eventbus"
	"smartpush/internal/notification"
	"smartpush/internal/orchestrator"
	"smartpush/internal/profile"
	logx "smartpush/pkg/logx"
)

// Track folds one behavioral event into the live state and the event
// history. Session-end events close out the session and queue its
// summary for the next profile recompute.
func (a *App) Track(ctx context.Context, e behavior.Event) (behavior.Update, error) {
	if err := e.Validate(); err != nil {
		return behavior.Update{}, err
	}
	up := a.tracker.Process(e)
	a.history.Append(e)
	a.users.touch(e.UserID, e.At)
	if e.Type == behavior.EventSessionEnd && e.ContentID != "" {
		a.closeSession(ctx, e)
	}
	return up, nil
}

func (a *App) closeSession(ctx context.Context, e behavior.Event) {
	events := a.history.EndSession(e.UserID, e.ContentID)
	if len(events) == 0 {
		return
	}
	wordCount := 0
	if it, err := a.contents.Get(ctx, e.ContentID); err == nil {
		wordCount = it.WordCount
	}
	sum, err := behavior.AnalyzeSession(events, wordCount)
	if err != nil {
		a.log.Debug("session analysis skipped",
			logx.String("user", e.UserID), logx.Err(err))
		return
	}
	a.users.addSession(sum)
}

// RecordFeedback reports a delivery outcome. It is folded into scoring
// weights and the adaptive rate budget by the bus consumer.
func (a *App) RecordFeedback(userID, notificationID string, positive bool) {
	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeFeedback,
		Data: Feedback{UserID: userID, NotificationID: notificationID, Positive: positive},
	})
}

// CreateNotification builds and scores a candidate without sending it.
func (a *App) CreateNotification(ctx context.Context, req orchestrator.CreateRequest) (notification.Notification, error) {
	return a.orch.CreateNotification(ctx, req)
}

// CreateAndSend runs the full pipeline for a single candidate.
func (a *App) CreateAndSend(ctx context.Context, req orchestrator.CreateRequest) (orchestrator.Outcome, error) {
	n, err := a.orch.CreateNotification(ctx, req)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	return a.orch.ProcessAndSend(ctx, n)
}

// ProcessAndSend runs the pipeline for an already-built notification.
func (a *App) ProcessAndSend(ctx context.Context, n notification.Notification) (orchestrator.Outcome, error) {
	return a.orch.ProcessAndSend(ctx, n)
}

// ProcessBatch runs the pipeline for a burst of candidates for one user,
// letting survivors aggregate into digest groups.
func (a *App) ProcessBatch(ctx context.Context, userID string, ns []notification.Notification) ([]orchestrator.Outcome, error) {
	return a.orch.ProcessBatch(ctx, userID, ns)
}

// CancelScheduled drops a parked notification. Returns false when the id
// is unknown or already fired.
func (a *App) CancelScheduled(ctx context.Context, notificationID string) bool {
	return a.orch.Cancel(ctx, notificationID)
}

// Engagement returns the user's live engagement level, if tracked.
func (a *App) Engagement(userID string) (behavior.EngagementLevel, bool) {
	return a.tracker.Engagement(userID)
}

// Patterns detects longer-term behavioral patterns from the user's
// retained event history.
func (a *App) Patterns(userID string) (behavior.PatternReport, error) {
	return behavior.DetectPatterns(a.history.Events(userID), time.Now())
}

// Profile returns the stored interest profile.
func (a *App) Profile(ctx context.Context, userID string) (*profile.Profile, bool, error) {
	return a.profiles.Load(ctx, userID)
}

// recomputeProfiles is the recurring rebuild job: it folds retained
// events and closed-session summaries into each active user's profile.
func (a *App) recomputeProfiles(ctx context.Context) error {
	now := time.Now()
	rebuilt := 0
	for _, uid := range a.users.activeIDs() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		events := a.history.Events(uid)
		sessions := a.users.takeSessions(uid)
		if len(events) == 0 && len(sessions) == 0 {
			continue
		}
		p, ok, err := a.profiles.Load(ctx, uid)
		if err != nil {
			a.log.Warn("profile load failed", logx.String("user", uid), logx.Err(err))
			continue
		}
		if !ok || p == nil {
			p = profile.New(uid, now)
		}
		a.builder.Rebuild(p, events, a.lookup(ctx), sessions, now)
		if err := a.profiles.Save(ctx, p); err != nil {
			a.log.Warn("profile save failed", logx.String("user", uid), logx.Err(err))
			continue
		}
		rebuilt++
	}
	if rebuilt > 0 {
		a.log.Debug("profiles recomputed", logx.Int("count", rebuilt))
	}
	return nil
}

func (a *App) lookup(ctx context.Context) func(string) (content.Item, bool) {
	return func(id string) (content.Item, bool) {
		it, err := a.contents.Get(ctx, id)
		if err != nil {
			return content.Item{}, false
		}
		return it, true
	}
}

const maxPendingSessions = 64

// userActivity tracks which users have produced events since the last
// recompute cycle, plus their closed-session summaries.
type userActivity struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	sessions map[string][]behavior.SessionSummary
}

func newUserActivity() *userActivity {
	return &userActivity{
		seen:     map[string]time.Time{},
		sessions: map[string][]behavior.SessionSummary{},
	}
}

func (u *userActivity) touch(userID string, at time.Time) {
	u.mu.Lock()
	if prev, ok := u.seen[userID]; !ok || at.After(prev) {
		u.seen[userID] = at
	}
	u.mu.Unlock()
}

func (u *userActivity) addSession(s behavior.SessionSummary) {
	u.mu.Lock()
	buf := append(u.sessions[s.UserID], s)
	if len(buf) > maxPendingSessions {
		buf = buf[len(buf)-maxPendingSessions:]
	}
	u.sessions[s.UserID] = buf
	u.mu.Unlock()
}

func (u *userActivity) activeIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids := make([]string, 0, len(u.seen))
	for id := range u.seen {
		ids = append(ids, id)
	}
	return ids
}

func (u *userActivity) takeSessions(userID string) []behavior.SessionSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.sessions[userID]
	delete(u.sessions, userID)
	return out
}

// prune drops users with no activity since the cutoff.
func (u *userActivity) prune(before time.Time) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for id, at := range u.seen {
		if at.Before(before) {
			delete(u.seen, id)
			delete(u.sessions, id)
			n++
		}
	}
	return n
}
