// Package dedup suppresses notifications that repeat what the user was
// already told. A rule table keyed by notification type picks one of four
// strategies; non-duplicates leave a hashed fingerprint behind so the
// next candidate can be checked against it.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/textsim"
	logx "smartpush/pkg/logx"
)

// Strategy selects how a rule decides sameness.
type Strategy string

const (
	StrategyExact      Strategy = "exact_match"
	StrategySimilarity Strategy = "similarity"
	StrategyCategory   Strategy = "category_based"
	StrategyTimeBased  Strategy = "time_based"
)

const recordTTL = 7 * 24 * time.Hour

// Rule configures duplicate detection for one notification type.
type Rule struct {
	Type     notification.Type `yaml:"type" json:"type"`
	Strategy Strategy          `yaml:"strategy" json:"strategy"`
	Window   time.Duration     `yaml:"window" json:"window"`

	// Fields feeds the exact-match hash; empty means type+contentId+title.
	Fields []string `yaml:"fields" json:"fields,omitempty"`
	// Threshold is the Jaccard cutoff for the similarity strategy.
	Threshold float64 `yaml:"threshold" json:"threshold,omitempty"`
	// IncludeAuthor tightens category matching to category+author.
	IncludeAuthor bool `yaml:"include_author" json:"includeAuthor,omitempty"`
}

// Match is one prior notification that triggered (or nearly triggered)
// a duplicate verdict.
type Match struct {
	NotificationID string    `json:"notificationId"`
	Similarity     float64   `json:"similarity,omitempty"`
	SentAt         time.Time `json:"sentAt"`
}

// Verdict is the outcome of an IsDuplicate check.
type Verdict struct {
	IsDuplicate bool    `json:"isDuplicate"`
	Reason      string  `json:"reason,omitempty"`
	Matches     []Match `json:"matches,omitempty"`
	Suggestion  string  `json:"suggestion,omitempty"`
}

// Records persists fingerprints of sent notifications across restarts.
type Records interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

// Config holds the rule table.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Rules   []Rule `yaml:"rules" json:"rules,omitempty"`
}

// DefaultRules mirrors how each notification type tends to repeat.
func DefaultRules() []Rule {
	return []Rule{
		{Type: notification.TypeBreakingNews, Strategy: StrategyTimeBased, Window: 10 * time.Minute},
		{Type: notification.TypeRecommendation, Strategy: StrategySimilarity, Window: 24 * time.Hour, Threshold: 0.5},
		{Type: notification.TypeSocialInteraction, Strategy: StrategyExact, Window: time.Hour, Fields: []string{"type", "contentId", "title"}},
		{Type: notification.TypeDigest, Strategy: StrategyCategory, Window: 12 * time.Hour},
		{Type: notification.TypeReEngagement, Strategy: StrategyTimeBased, Window: 7 * 24 * time.Hour},
		{Type: notification.TypeAchievement, Strategy: StrategyExact, Window: 7 * 24 * time.Hour, Fields: []string{"type", "title"}},
	}
}

// Engine applies the rule table. The check-then-record sequence runs in
// one critical section per fingerprint so two concurrent candidates
// cannot both pass. Safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg   Config
	rules map[notification.Type]Rule

	// fingerprint -> suppress until
	seen  map[string]time.Time
	store Records
	log   logx.Logger

	now func() time.Time
}

func New(cfg Config, store Records, log logx.Logger) *Engine {
	e := &Engine{
		seen:  map[string]time.Time{},
		store: store,
		log:   log,
		now:   time.Now,
	}
	e.applyLocked(cfg)
	return e
}

func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.applyLocked(cfg)
	e.mu.Unlock()
}

func (e *Engine) applyLocked(cfg Config) {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	e.cfg = cfg
	e.rules = make(map[notification.Type]Rule, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if r.Window <= 0 {
			r.Window = time.Hour
		}
		if r.Strategy == StrategySimilarity && r.Threshold <= 0 {
			r.Threshold = 0.5
		}
		e.rules[r.Type] = r
	}
}

// IsDuplicate checks the candidate against the user's recent
// notifications under its type's rule. Non-duplicates are fingerprinted
// for seven days.
func (e *Engine) IsDuplicate(ctx context.Context, cand notification.Notification, recent []notification.Notification) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Enabled {
		return Verdict{}
	}
	rule, ok := e.rules[cand.Type]
	if !ok {
		return Verdict{}
	}

	now := e.now()
	e.pruneLocked(now)

	var v Verdict
	switch rule.Strategy {
	case StrategyExact:
		v = e.checkExactLocked(ctx, rule, cand, now)
	case StrategySimilarity:
		v = checkSimilarity(rule, cand, recent, now)
	case StrategyCategory:
		v = checkCategory(rule, cand, recent, now)
	case StrategyTimeBased:
		v = checkTimeBased(rule, cand, recent, now)
	}

	if !v.IsDuplicate {
		e.recordLocked(ctx, rule, cand, now)
	}
	return v
}

func (e *Engine) checkExactLocked(ctx context.Context, rule Rule, cand notification.Notification, now time.Time) Verdict {
	key := fingerprint(rule, cand)
	until, ok := e.seen[key]
	if !ok && e.store != nil {
		var err error
		until, ok, err = e.store.GetDedup(ctx, key)
		if err != nil {
			e.log.Warn("dedup lookup failed", logx.String("key", key), logx.Err(err))
		}
		if ok {
			e.seen[key] = until
		}
	}
	// The fingerprint lives for the full record TTL; the rule only
	// blocks within its own, usually shorter, window.
	recordedAt := until.Add(-recordTTL)
	if ok && now.Sub(recordedAt) <= rule.Window {
		return Verdict{
			IsDuplicate: true,
			Reason:      fmt.Sprintf("identical %s already sent within %s", cand.Type, rule.Window),
			Suggestion:  "drop or reschedule after the window expires",
		}
	}
	return Verdict{}
}

func checkSimilarity(rule Rule, cand notification.Notification, recent []notification.Notification, now time.Time) Verdict {
	candTokens := textsim.Tokenize(cand.Title + " " + cand.Message)
	var matches []Match
	for _, n := range recent {
		if !inWindow(n, now, rule.Window) {
			continue
		}
		sim := textsim.Jaccard(candTokens, textsim.Tokenize(n.Title+" "+n.Message))
		if sim >= rule.Threshold {
			matches = append(matches, Match{NotificationID: n.ID, Similarity: sim, SentAt: eventTime(n)})
		}
	}
	if len(matches) == 0 {
		return Verdict{}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > 3 {
		matches = matches[:3]
	}
	return Verdict{
		IsDuplicate: true,
		Reason:      fmt.Sprintf("content %.0f%% similar to a recent notification", matches[0].Similarity*100),
		Matches:     matches,
		Suggestion:  "rewrite the message or wait for the window to pass",
	}
}

func checkCategory(rule Rule, cand notification.Notification, recent []notification.Notification, now time.Time) Verdict {
	category := cand.Meta["category"]
	if category == "" {
		return Verdict{}
	}
	author := cand.Meta["author"]

	var matches []Match
	for _, n := range recent {
		if !inWindow(n, now, rule.Window) {
			continue
		}
		if n.Meta["category"] != category {
			continue
		}
		if rule.IncludeAuthor && n.Meta["author"] != author {
			continue
		}
		matches = append(matches, Match{NotificationID: n.ID, SentAt: eventTime(n)})
	}
	if len(matches) < 3 {
		return Verdict{}
	}
	return Verdict{
		IsDuplicate: true,
		Reason:      fmt.Sprintf("user already received %d %q notifications in this window", len(matches), category),
		Matches:     matches,
		Suggestion:  "fold into a digest instead of sending individually",
	}
}

func checkTimeBased(rule Rule, cand notification.Notification, recent []notification.Notification, now time.Time) Verdict {
	for _, n := range recent {
		if !inWindow(n, now, rule.Window) {
			continue
		}
		if n.Type != cand.Type || n.ContentID == "" || n.ContentID != cand.ContentID {
			continue
		}
		wait := eventTime(n).Add(rule.Window).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return Verdict{
			IsDuplicate: true,
			Reason:      fmt.Sprintf("same %s for content %s sent %s ago", cand.Type, cand.ContentID, now.Sub(eventTime(n)).Round(time.Second)),
			Matches:     []Match{{NotificationID: n.ID, SentAt: eventTime(n)}},
			Suggestion:  fmt.Sprintf("wait %s before repeating", wait.Round(time.Second)),
		}
	}
	return Verdict{}
}

func (e *Engine) recordLocked(ctx context.Context, rule Rule, cand notification.Notification, now time.Time) {
	key := fingerprint(rule, cand)
	until := now.Add(recordTTL)
	e.seen[key] = until
	if e.store != nil {
		if err := e.store.PutDedup(ctx, key, until); err != nil {
			e.log.Warn("dedup record persist failed", logx.String("key", key), logx.Err(err))
		}
	}
}

func (e *Engine) pruneLocked(now time.Time) {
	for k, until := range e.seen {
		if !now.Before(until) {
			delete(e.seen, k)
		}
	}
}

// fingerprint hashes the rule's field subset. Exact-match rules consult
// it directly; the other strategies only use it to remember what went out.
func fingerprint(rule Rule, n notification.Notification) string {
	fields := rule.Fields
	if len(fields) == 0 {
		fields = []string{"type", "contentId", "title"}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.UserID))
	for _, f := range fields {
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(fieldValue(n, f)))
	}
	return fmt.Sprintf("%s:%x", n.UserID, h.Sum64())
}

func fieldValue(n notification.Notification, field string) string {
	switch field {
	case "type":
		return string(n.Type)
	case "contentId":
		return n.ContentID
	case "title":
		return strings.ToLower(strings.TrimSpace(n.Title))
	case "message":
		return strings.ToLower(strings.TrimSpace(n.Message))
	case "priority":
		return string(n.Prio)
	default:
		return n.Meta[field]
	}
}

func inWindow(n notification.Notification, now time.Time, window time.Duration) bool {
	t := eventTime(n)
	return !t.IsZero() && now.Sub(t) <= window
}

func eventTime(n notification.Notification) time.Time {
	if !n.SentAt.IsZero() {
		return n.SentAt
	}
	return n.CreatedAt
}
