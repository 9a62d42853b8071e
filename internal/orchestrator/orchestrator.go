// Package orchestrator runs the decision pipeline for candidate
// notifications: score at creation, then rate limit, anti-duplication,
// timing, aggregation and dispatch in fixed, short-circuiting order.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartpush/internal/content"
	"smartpush/internal/eventbus"
	"smartpush/internal/notification"
	"smartpush/internal/profile"
	"smartpush/internal/scoring"
	"smartpush/internal/services/dedup"
	"smartpush/internal/services/digest"
	"smartpush/internal/services/dispatch"
	"smartpush/internal/services/ratelimit"
	"smartpush/internal/services/scheduler"
	"smartpush/internal/storage"
	logx "smartpush/pkg/logx"
)

// Orchestrator wires the decision services together. Safe for concurrent
// use; per-candidate processing is logically sequential.
type Orchestrator struct {
	cfg Config

	profiles  profile.Store
	contents  content.Store
	templates TemplateStore

	scorer    *scoring.Scorer
	predictor *scoring.Predictor
	limiter   *ratelimit.Service
	deduper   *dedup.Engine
	digester  *digest.Service
	dispatch  *dispatch.Service
	sched     *scheduler.Service

	bus eventbus.Bus
	log logx.Logger
	now func() time.Time

	// Recent deliveries per user, newest last, bounded by cfg.RecentWindow.
	rmu    sync.Mutex
	recent map[string][]notification.Notification
}

type Deps struct {
	Profiles  profile.Store
	Contents  content.Store
	Templates TemplateStore
	Scorer    *scoring.Scorer
	Predictor *scoring.Predictor
	Limiter   *ratelimit.Service
	Deduper   *dedup.Engine
	Digester  *digest.Service
	Dispatch  *dispatch.Service
	Scheduler *scheduler.Service
	Bus       eventbus.Bus
	Log       logx.Logger
}

func New(cfg Config, d Deps) *Orchestrator {
	if cfg.ScheduleAhead <= 0 {
		cfg.ScheduleAhead = 30 * time.Minute
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 50
	}
	o := &Orchestrator{
		cfg:       cfg,
		profiles:  d.Profiles,
		contents:  d.Contents,
		templates: d.Templates,
		scorer:    d.Scorer,
		predictor: d.Predictor,
		limiter:   d.Limiter,
		deduper:   d.Deduper,
		digester:  d.Digester,
		dispatch:  d.Dispatch,
		sched:     d.Scheduler,
		bus:       d.Bus,
		log:       d.Log,
		now:       time.Now,
		recent:    map[string][]notification.Notification{},
	}
	if o.sched != nil {
		o.sched.SetFire(o.fireScheduled)
	}
	return o
}

// CreateNotification builds and scores a candidate. The score vector is
// computed once here and reused by every later pipeline step.
func (o *Orchestrator) CreateNotification(ctx context.Context, req CreateRequest) (notification.Notification, error) {
	var n notification.Notification
	if strings.TrimSpace(req.UserID) == "" {
		return n, errors.New("userId is required")
	}
	if req.Type == "" {
		return n, errors.New("notification type is required")
	}

	now := o.now()
	prof, err := o.loadProfile(ctx, req.UserID, now)
	if err != nil {
		return n, err
	}

	var it content.Item
	if req.ContentID != "" && o.contents != nil {
		it, err = o.contents.Get(ctx, req.ContentID)
		if err != nil {
			return n, fmt.Errorf("load content %s: %w", req.ContentID, err)
		}
	}

	title, message := personalize(o.template(ctx, req.Type), it, req.Custom)

	prio := req.Priority
	if prio == "" {
		prio = defaultPriority(req.Type)
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = prof.Notifications.Channels
	}

	n = notification.Notification{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Type:        req.Type,
		Prio:        prio,
		Status:      notification.StatusPending,
		Title:       title,
		Message:     message,
		ContentID:   req.ContentID,
		Channels:    channels,
		CreatedAt:   now,
		ScheduledAt: req.ScheduledAt,
		Meta:        map[string]string{},
	}
	if it.Category != "" {
		n.Meta["category"] = it.Category
	}
	if it.Author != "" {
		n.Meta["author"] = it.Author
	}

	proposedAt := now
	if !req.ScheduledAt.IsZero() {
		proposedAt = req.ScheduledAt
	}
	res := o.scorer.Score(prof, it, scoring.Context{
		ProposedAt: proposedAt,
		Channel:    firstChannel(channels),
		Recent:     o.recentFor(req.UserID),
	})
	n.Scores = res.Vector()
	return n, nil
}

// ProcessAndSend runs the pipeline: rate limit, dedup, timing,
// aggregation, dispatch. Every step short-circuits; blocks come back as
// outcomes, not errors.
func (o *Orchestrator) ProcessAndSend(ctx context.Context, n notification.Notification) (Outcome, error) {
	out := Outcome{Notification: n}
	now := o.now()

	prof, err := o.loadProfile(ctx, n.UserID, now)
	if err != nil {
		return out, err
	}
	proceed, err := o.decide(ctx, &out, prof, now)
	if err != nil || !proceed {
		return out, err
	}

	// Step 4: aggregation, skipped for users who opted out of grouping.
	if prof.Notifications.AllowGrouping {
		groups := o.digester.Aggregate(n.UserID, []notification.Notification{out.Notification})
		mine := groupContaining(groups, out.Notification.ID)
		if mine != nil && len(mine.Notifications) >= 2 {
			return out, o.sendGroup(ctx, &out, *mine, now)
		}
	}

	// Step 5: per-channel dispatch.
	return out, o.send(ctx, &out)
}

// ProcessBatch runs the pipeline for a burst of candidates for one user.
// Unlike single-candidate processing, the survivors of steps 1..3 enter
// aggregation together, so simultaneous notifications can fold into one
// digest group.
func (o *Orchestrator) ProcessBatch(ctx context.Context, userID string, ns []notification.Notification) ([]Outcome, error) {
	now := o.now()
	prof, err := o.loadProfile(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(ns))
	var survivors []notification.Notification
	byID := map[string]*Outcome{}
	for i, n := range ns {
		outcomes[i] = Outcome{Notification: n}
		proceed, derr := o.decide(ctx, &outcomes[i], prof, now)
		if derr != nil {
			return outcomes, derr
		}
		if proceed {
			survivors = append(survivors, outcomes[i].Notification)
			byID[n.ID] = &outcomes[i]
		}
	}
	if len(survivors) == 0 {
		return outcomes, nil
	}
	if !prof.Notifications.AllowGrouping {
		for _, n := range survivors {
			if serr := o.send(ctx, byID[n.ID]); serr != nil {
				return outcomes, serr
			}
		}
		return outcomes, nil
	}

	groups := o.digester.Aggregate(userID, survivors)
	for _, g := range groups {
		g := g
		if len(g.Notifications) >= 2 {
			// One digest delivery covers every member.
			dn := o.digestNotification(g, now)
			results, derr := o.dispatch.Deliver(ctx, dn)
			if derr != nil {
				o.log.Warn("digest dispatch failed",
					logx.String("group", g.ID), logx.String("user", g.UserID), logx.Err(derr))
			}
			for _, m := range g.Notifications {
				out, ok := byID[m.ID]
				if !ok {
					continue
				}
				out.Group = &g
				if terr := out.Notification.Transition(notification.StatusAggregated); terr != nil {
					return outcomes, terr
				}
				if derr == nil {
					out.Deliveries = results
				}
			}
			if derr == nil {
				o.remember(dn, results)
			}
			continue
		}
		for _, m := range g.Notifications {
			out, ok := byID[m.ID]
			if !ok {
				continue
			}
			if serr := o.send(ctx, out); serr != nil {
				return outcomes, serr
			}
		}
	}
	return outcomes, nil
}

// decide runs the pre-aggregation steps. It returns false when the
// candidate was blocked or parked and should go no further.
func (o *Orchestrator) decide(ctx context.Context, out *Outcome, prof *profile.Profile, now time.Time) (bool, error) {
	n := out.Notification

	// Step 0: explicit user preferences. A user who turned notifications
	// off, or this type off, gets a block before any quota is consumed.
	if !prof.Notifications.Enabled {
		_, err := o.block(out, "preferences: notifications disabled")
		return false, err
	}
	if len(prof.Notifications.EnabledTypes) > 0 && !typeEnabled(prof.Notifications.EnabledTypes, n.Type) {
		_, err := o.block(out, "preferences: type "+string(n.Type)+" not enabled")
		return false, err
	}

	// Step 1: rate limiter.
	decision := o.limiter.ShouldSend(ctx, ratelimit.Request{
		UserID:   n.UserID,
		Type:     n.Type,
		Priority: n.Prio,
		Channel:  firstChannel(n.Channels),
		Profile:  prof,
	})
	out.RateDecision = &decision
	if !decision.Allowed {
		_, err := o.block(out, "rate_limited: "+decision.Reason)
		return false, err
	}

	// Step 2: anti-duplication.
	verdict := o.deduper.IsDuplicate(ctx, n, o.recentFor(n.UserID))
	out.Duplicate = &verdict
	if verdict.IsDuplicate {
		_, err := o.block(out, "duplicate: "+verdict.Reason)
		return false, err
	}

	// Step 3: timing. Re-entries from the scheduler skip this so a
	// notification cannot bounce between scheduled states forever.
	if n.Meta[metaReentry] != "" {
		return true, nil
	}
	if !n.ScheduledAt.IsZero() && n.ScheduledAt.Sub(now) > o.cfg.ScheduleAhead {
		// An explicit requested time wins over the predictor.
		_, err := o.park(ctx, out, n.ScheduledAt)
		return false, err
	}
	var it content.Item
	if n.ContentID != "" && o.contents != nil {
		if loaded, cerr := o.contents.Get(ctx, n.ContentID); cerr == nil {
			it = loaded
		}
	}
	pred := o.predictor.Predict(prof, it, scoring.TimingContext{
		Now:            now,
		LastNotifiedAt: o.lastDeliveredAt(n.UserID),
		Platform:       platformHint(prof),
	})
	if at := pred.OptimalAt; !at.IsZero() && at.Sub(now) > o.cfg.ScheduleAhead {
		_, err := o.park(ctx, out, at)
		return false, err
	}
	return true, nil
}

// sendGroup delivers the digest group the candidate merged into.
func (o *Orchestrator) sendGroup(ctx context.Context, out *Outcome, g notification.Group, now time.Time) error {
	out.Group = &g
	if err := out.Notification.Transition(notification.StatusAggregated); err != nil {
		return err
	}
	dn := o.digestNotification(g, now)
	results, err := o.dispatch.Deliver(ctx, dn)
	if err != nil {
		o.log.Warn("digest dispatch failed",
			logx.String("group", g.ID), logx.String("user", g.UserID), logx.Err(err))
		return nil
	}
	out.Deliveries = results
	o.remember(dn, results)
	return nil
}

func (o *Orchestrator) send(ctx context.Context, out *Outcome) error {
	results, err := o.dispatch.Deliver(ctx, out.Notification)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	out.Deliveries = results

	anyOK := false
	for _, r := range results {
		if r.OK {
			anyOK = true
			break
		}
	}
	if anyOK {
		if err := out.Notification.Transition(notification.StatusSent); err != nil {
			return err
		}
		out.Notification.SentAt = o.now()
	} else {
		if err := out.Notification.Transition(notification.StatusFailed); err != nil {
			return err
		}
	}
	o.remember(out.Notification, results)
	return nil
}

// CreateAndSend is the inbound one-call entry: build, score, decide.
func (o *Orchestrator) CreateAndSend(ctx context.Context, req CreateRequest) (Outcome, error) {
	n, err := o.CreateNotification(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return o.ProcessAndSend(ctx, n)
}

// Cancel removes a scheduled notification; idempotent.
func (o *Orchestrator) Cancel(ctx context.Context, notificationID string) bool {
	if o.sched == nil {
		return false
	}
	return o.sched.Cancel(ctx, notificationID)
}

func (o *Orchestrator) block(out *Outcome, reason string) (Outcome, error) {
	if err := out.Notification.Transition(notification.StatusBlocked); err != nil {
		return *out, err
	}
	if out.Notification.Meta == nil {
		out.Notification.Meta = map[string]string{}
	}
	out.Notification.Meta["block_reason"] = reason
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationBlocked, Time: o.now(), Data: out.Notification})
	}
	o.log.Debug("notification blocked",
		logx.String("id", out.Notification.ID), logx.String("user", out.Notification.UserID),
		logx.String("reason", reason))
	return *out, nil
}

// park persists the notification as scheduled; the scheduler re-enters
// the pipeline at the target time, restarting from the rate limiter.
func (o *Orchestrator) park(ctx context.Context, out *Outcome, at time.Time) (Outcome, error) {
	if o.sched == nil {
		return *out, errors.New("scheduling requested but no scheduler configured")
	}
	out.Notification.ScheduledAt = at
	if err := out.Notification.Transition(notification.StatusScheduled); err != nil {
		return *out, err
	}
	payload, err := json.Marshal(out.Notification)
	if err != nil {
		return *out, fmt.Errorf("encode scheduled notification: %w", err)
	}
	if err := o.sched.Schedule(ctx, storage.ScheduledEntry{
		ID:      out.Notification.ID,
		UserID:  out.Notification.UserID,
		At:      at,
		Payload: payload,
	}); err != nil {
		return *out, err
	}
	out.ScheduledFor = at
	o.log.Debug("notification parked",
		logx.String("id", out.Notification.ID), logx.Time("at", at))
	return *out, nil
}

// fireScheduled is the scheduler's re-entry callback.
func (o *Orchestrator) fireScheduled(ctx context.Context, e storage.ScheduledEntry) error {
	var n notification.Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return fmt.Errorf("decode scheduled notification %s: %w", e.ID, err)
	}
	if n.Meta == nil {
		n.Meta = map[string]string{}
	}
	n.Meta[metaReentry] = "1"
	_, err := o.ProcessAndSend(ctx, n)
	return err
}

func (o *Orchestrator) digestNotification(g notification.Group, now time.Time) notification.Notification {
	return notification.Notification{
		ID:        uuid.NewString(),
		UserID:    g.UserID,
		Type:      notification.TypeDigest,
		Prio:      g.Prio,
		Status:    notification.StatusPending,
		Title:     g.Summary.Title,
		Message:   g.Summary.Message,
		Channels:  channelsOf(g.Notifications),
		CreatedAt: now,
		Meta:      map[string]string{"group_id": g.ID, "group_count": fmt.Sprint(g.Summary.Count)},
	}
}

func (o *Orchestrator) loadProfile(ctx context.Context, userID string, now time.Time) (*profile.Profile, error) {
	if o.profiles == nil {
		return profile.New(userID, now), nil
	}
	p, ok, err := o.profiles.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	if !ok || p == nil {
		return profile.New(userID, now), nil
	}
	return p, nil
}

func (o *Orchestrator) recentFor(userID string) []notification.Notification {
	o.rmu.Lock()
	defer o.rmu.Unlock()
	return append([]notification.Notification(nil), o.recent[userID]...)
}

func (o *Orchestrator) lastDeliveredAt(userID string) time.Time {
	o.rmu.Lock()
	defer o.rmu.Unlock()
	rs := o.recent[userID]
	if len(rs) == 0 {
		return time.Time{}
	}
	return rs[len(rs)-1].SentAt
}

func (o *Orchestrator) remember(n notification.Notification, results []dispatch.DeliveryResult) {
	ok := false
	for _, r := range results {
		if r.OK {
			ok = true
			break
		}
	}
	if !ok {
		return
	}
	o.rmu.Lock()
	rs := append(o.recent[n.UserID], n)
	if len(rs) > o.cfg.RecentWindow {
		rs = rs[len(rs)-o.cfg.RecentWindow:]
	}
	o.recent[n.UserID] = rs
	o.rmu.Unlock()
}

// platformHint maps channel affinities onto the timing model's device
// hint: push-leaning users read on mobile, email-leaning on desktop.
func platformHint(p *profile.Profile) string {
	if p.ChannelAffinity(profile.ChannelEmail) > p.ChannelAffinity(profile.ChannelPush) {
		return "desktop"
	}
	return "mobile"
}

func typeEnabled(enabled []string, t notification.Type) bool {
	if t == notification.TypeDigest {
		return true
	}
	for _, e := range enabled {
		if e == string(t) {
			return true
		}
	}
	return false
}

func firstChannel(chs []profile.Channel) profile.Channel {
	if len(chs) == 0 {
		return profile.ChannelInApp
	}
	return chs[0]
}

func channelsOf(ns []notification.Notification) []profile.Channel {
	seen := map[profile.Channel]bool{}
	var out []profile.Channel
	for _, n := range ns {
		for _, ch := range n.Channels {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	return out
}

func groupContaining(groups []notification.Group, id string) *notification.Group {
	for i := range groups {
		for _, n := range groups[i].Notifications {
			if n.ID == id {
				return &groups[i]
			}
		}
	}
	return nil
}
