package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/rules"
	logx "smartpush/pkg/logx"
)

const historyTTL = 24 * time.Hour

// Service evaluates scoped sliding-window quotas. In-memory windows are
// authoritative; an optional History backing rehydrates them after a
// restart. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg      Config
	ruleSet  []Rule // sorted by priority, highest first
	windows  map[string][]time.Time
	hydrated map[string]bool

	adaptive *adaptive
	store    History
	log      logx.Logger

	now func() time.Time
}

func New(cfg Config, store History, log logx.Logger) *Service {
	s := &Service{
		windows:  map[string][]time.Time{},
		hydrated: map[string]bool{},
		store:    store,
		log:      log,
		now:      time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	if cfg.Adaptive.Seed <= 0 {
		cfg.Adaptive.Seed = 30
	}
	if cfg.Adaptive.Floor <= 0 {
		cfg.Adaptive.Floor = 5
	}
	if cfg.Adaptive.Ceiling <= 0 {
		cfg.Adaptive.Ceiling = 60
	}
	if cfg.Adaptive.LowEngagement <= 0 {
		cfg.Adaptive.LowEngagement = 0.2
	}

	s.cfg = cfg
	s.ruleSet = append([]Rule(nil), cfg.Rules...)
	sort.SliceStable(s.ruleSet, func(i, j int) bool {
		return s.ruleSet[i].Priority > s.ruleSet[j].Priority
	})
	if s.adaptive == nil {
		s.adaptive = newAdaptive(cfg.Adaptive)
	} else {
		s.adaptive.apply(cfg.Adaptive)
	}
}

// ShouldSend checks every applicable rule in priority order and, when
// all pass, records the send against each rule's scope. The whole
// check-then-record sequence is one critical section so concurrent
// candidates cannot both slip under a cap.
func (s *Service) ShouldSend(ctx context.Context, req Request) Decision {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return Decision{Allowed: true}
	}

	f := requestFields(req)
	type hit struct {
		rule Rule
		key  string
	}
	var hits []hit
	for _, r := range s.ruleSet {
		if !rules.Match(r.Conditions, f) {
			continue
		}
		key := s.scopeKey(r, req)
		s.hydrateLocked(ctx, key, now)
		s.pruneLocked(key, now)

		for gran, cap := range r.Caps {
			w := gran.Window()
			if w <= 0 || cap <= 0 {
				continue
			}
			limit := cap
			if r.Scope == ScopeUser && gran == PerHour {
				if al := s.adaptive.limitFor(req.UserID, now); al < limit {
					limit = al
				}
			}
			// An explicit max-per-day preference tightens the user cap.
			if r.Scope == ScopeUser && gran == PerDay && req.Profile != nil {
				if mpd := req.Profile.Notifications.MaxPerDay; mpd > 0 && mpd < limit {
					limit = mpd
				}
			}
			recent := countSince(s.windows[key], now.Add(-w))
			if recent < limit {
				continue
			}
			if exceptionMatches(r.Exceptions, req, now) {
				continue
			}
			return s.blockLocked(r, key, gran, recent, limit, now)
		}
		hits = append(hits, hit{rule: r, key: key})
	}

	// Allowed: record against every applicable scope.
	seen := map[string]bool{}
	for _, h := range hits {
		if seen[h.key] {
			continue
		}
		seen[h.key] = true
		s.windows[h.key] = append(s.windows[h.key], now)
		if s.store != nil {
			if err := s.store.AppendRateRecord(ctx, h.key, now); err != nil {
				s.log.Warn("rate record persist failed", logx.String("scope", h.key), logx.Err(err))
			}
		}
	}
	return Decision{Allowed: true}
}

func (s *Service) blockLocked(r Rule, key string, gran Granularity, used, limit int, now time.Time) Decision {
	w := gran.Window()
	resetAt := now.Add(w)
	retryAfter := w
	if oldest, ok := oldestSince(s.windows[key], now.Add(-w)); ok {
		resetAt = oldest.Add(w)
		retryAfter = resetAt.Sub(now)
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	d := Decision{
		Allowed:       false,
		Reason:        fmt.Sprintf("%s cap reached (%d per %s)", r.Name, limit, gran),
		Rule:          r.Name,
		RetryAfterSec: retryAfter.Seconds(),
		Quota:         Quota{Used: used, Limit: limit, ResetAt: resetAt},
	}

	// Suggested spacing from the hourly cap: ideal interval between
	// sends minus however long it has been since the last one.
	if hourCap, ok := r.Caps[PerHour]; ok && hourCap > 0 {
		interval := time.Hour / time.Duration(hourCap)
		sinceLast := interval
		if last, ok := lastOf(s.windows[key]); ok {
			sinceLast = now.Sub(last)
		}
		if gap := interval - sinceLast; gap > 0 {
			d.SuggestedDelaySec = gap.Seconds()
		}
	}
	return d
}

// RecordEngagement feeds a delivery outcome to the adaptive layer.
// engaged means the user opened or clicked the notification.
func (s *Service) RecordEngagement(userID string, engaged bool) {
	s.mu.Lock()
	old, cur := s.adaptive.record(userID, engaged, s.now())
	s.mu.Unlock()
	if cur < old {
		s.log.Info("adaptive limit reduced",
			logx.String("user", userID), logx.Int("from", old), logx.Int("to", cur))
	}
}

// AdjustDaily applies the once-per-day ±10% nudge for every tracked
// user. Meant to be driven by the maintenance scheduler.
func (s *Service) AdjustDaily() {
	s.mu.Lock()
	s.adaptive.adjustAll(s.now())
	s.mu.Unlock()
}

// CurrentLimit exposes a user's adaptive hourly budget.
func (s *Service) CurrentLimit(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adaptive.limitFor(userID, s.now())
}

// Prune drops window entries older than the retention horizon.
func (s *Service) Prune() {
	now := s.now()
	s.mu.Lock()
	for key := range s.windows {
		s.pruneLocked(key, now)
		if len(s.windows[key]) == 0 {
			delete(s.windows, key)
			delete(s.hydrated, key)
		}
	}
	s.mu.Unlock()
}

func (s *Service) scopeKey(r Rule, req Request) string {
	switch r.Scope {
	case ScopeUser:
		return "user:" + req.UserID
	case ScopeChannel:
		return "channel:" + req.UserID + ":" + string(req.Channel)
	case ScopeType:
		return "type:" + req.UserID + ":" + string(req.Type)
	default:
		return "global"
	}
}

func (s *Service) hydrateLocked(ctx context.Context, key string, now time.Time) {
	if s.hydrated[key] || s.store == nil {
		return
	}
	s.hydrated[key] = true
	hist, err := s.store.RateHistory(ctx, key, now.Add(-historyTTL))
	if err != nil {
		s.log.Warn("rate history load failed", logx.String("scope", key), logx.Err(err))
		return
	}
	if len(hist) > 0 {
		s.windows[key] = append(hist, s.windows[key]...)
		sort.Slice(s.windows[key], func(i, j int) bool { return s.windows[key][i].Before(s.windows[key][j]) })
	}
}

func (s *Service) pruneLocked(key string, now time.Time) {
	w := s.windows[key]
	cutoff := now.Add(-historyTTL)
	i := 0
	for i < len(w) && w[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.windows[key] = append([]time.Time(nil), w[i:]...)
	}
}

func requestFields(req Request) rules.Fields {
	f := rules.Fields{
		"userId":   req.UserID,
		"type":     string(req.Type),
		"priority": string(req.Priority),
		"channel":  string(req.Channel),
	}
	if req.Profile != nil {
		f["frequencyTier"] = string(req.Profile.Notifications.Frequency)
	}
	return f
}

func exceptionMatches(exs []Exception, req Request, now time.Time) bool {
	for _, e := range exs {
		if e.MinPriority != "" && req.Priority.Rank() < e.MinPriority.Rank() {
			continue
		}
		if len(e.Types) > 0 && !containsType(e.Types, req.Type) {
			continue
		}
		if (e.HourFrom != 0 || e.HourTo != 0) && !hourInRange(now.Hour(), e.HourFrom, e.HourTo) {
			continue
		}
		return true
	}
	return false
}

func containsType(ts []notification.Type, t notification.Type) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func hourInRange(h, from, to int) bool {
	if from <= to {
		return h >= from && h < to
	}
	return h >= from || h < to
}

func countSince(w []time.Time, since time.Time) int {
	n := 0
	for i := len(w) - 1; i >= 0; i-- {
		if w[i].Before(since) {
			break
		}
		n++
	}
	return n
}

func oldestSince(w []time.Time, since time.Time) (time.Time, bool) {
	for _, t := range w {
		if !t.Before(since) {
			return t, true
		}
	}
	return time.Time{}, false
}

func lastOf(w []time.Time) (time.Time, bool) {
	if len(w) == 0 {
		return time.Time{}, false
	}
	return w[len(w)-1], true
}
