package digest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartpush/internal/notification"
	"smartpush/internal/rules"
	logx "smartpush/pkg/logx"
)

// Service owns the per-user aggregation buffers. All buffer mutation,
// including the consumed marking inside Aggregate, happens under one
// lock so concurrent aggregation calls cannot double-group an item.
type Service struct {
	mu sync.Mutex

	cfg     Config
	ruleSet []Rule
	buffers map[string][]*entry

	log logx.Logger
	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	s := &Service{
		buffers: map[string][]*entry{},
		log:     log,
		now:     time.Now,
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
	for i := range cfg.Rules {
		if cfg.Rules[i].MaxSize <= 0 {
			cfg.Rules[i].MaxSize = 10
		}
		if cfg.Rules[i].Window <= 0 {
			cfg.Rules[i].Window = time.Hour
		}
	}
	s.cfg = cfg
	s.ruleSet = cfg.Rules
}

// Buffered reports how many unconsumed notifications a user has waiting.
func (s *Service) Buffered(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.buffers[userID] {
		if !e.consumed {
			n++
		}
	}
	return n
}

// Aggregate adds the pending notifications to the user's buffer, then
// runs the rule list over everything unconsumed. Matched items are
// folded into groups (possibly singletons) and marked consumed, so a
// repeated call returns nothing for them.
func (s *Service) Aggregate(userID string, pending []notification.Notification) []notification.Group {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return passthrough(userID, pending, now)
	}

	buf := s.buffers[userID]
	for _, n := range pending {
		buf = append(buf, &entry{n: n, addedAt: now})
	}
	buf = pruneBuffer(buf, now)
	s.buffers[userID] = buf

	var groups []notification.Group
	for _, rule := range s.ruleSet {
		var matched []*entry
		for _, e := range buf {
			if e.consumed {
				continue
			}
			if rules.Match(rule.Conditions, notifFields(e.n)) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		var chunks [][]*entry
		if rule.Strategy == notification.GroupSmart {
			chunks = smartChunks(matched, rule)
		} else {
			chunks = strategyChunks(matched, rule)
		}
		for _, c := range chunks {
			groups = append(groups, s.buildGroup(userID, rule.Strategy, c, now))
			for _, e := range c {
				e.consumed = true
			}
		}
	}

	groups = mergeSingletons(groups)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Prio.Rank() > groups[j].Prio.Rank()
	})
	return groups
}

// Prune drops expired and consumed buffer entries. Driven by the
// maintenance scheduler.
func (s *Service) Prune() {
	now := s.now()
	s.mu.Lock()
	for userID, buf := range s.buffers {
		buf = pruneBuffer(buf, now)
		if len(buf) == 0 {
			delete(s.buffers, userID)
		} else {
			s.buffers[userID] = buf
		}
	}
	s.mu.Unlock()
}

func (s *Service) buildGroup(userID string, strategy notification.GroupStrategy, es []*entry, now time.Time) notification.Group {
	g := notification.Group{
		ID:        uuid.NewString(),
		UserID:    userID,
		Strategy:  strategy,
		CreatedAt: now,
	}
	for _, e := range es {
		g.Notifications = append(g.Notifications, e.n)
	}
	g.DerivePriority()
	g.Summary = summarize(strategy, g.Notifications)
	return g
}

func pruneBuffer(buf []*entry, now time.Time) []*entry {
	out := buf[:0]
	for _, e := range buf {
		if e.consumed || now.Sub(e.addedAt) > bufferTTL {
			continue
		}
		out = append(out, e)
	}
	return out
}

// passthrough wraps each pending notification in its own group so the
// caller's contract stays uniform when aggregation is off.
func passthrough(userID string, pending []notification.Notification, now time.Time) []notification.Group {
	var groups []notification.Group
	for _, n := range pending {
		g := notification.Group{
			ID:            uuid.NewString(),
			UserID:        userID,
			Strategy:      notification.GroupByTime,
			Notifications: []notification.Notification{n},
			CreatedAt:     now,
		}
		g.DerivePriority()
		g.Summary = summarize(g.Strategy, g.Notifications)
		groups = append(groups, g)
	}
	return groups
}
