package ratelimit

import "time"

const (
	outcomeWindow = 20
	minOutcomes   = 10
	adjustEvery   = 24 * time.Hour
)

type adaptiveState struct {
	limit      int
	outcomes   []bool // true = opened or clicked
	lastAdjust time.Time
}

// adaptive tracks each user's current hourly budget. Callers hold the
// service mutex; nothing here locks.
type adaptive struct {
	cfg   AdaptiveConfig
	users map[string]*adaptiveState
}

func newAdaptive(cfg AdaptiveConfig) *adaptive {
	return &adaptive{cfg: cfg, users: map[string]*adaptiveState{}}
}

func (a *adaptive) apply(cfg AdaptiveConfig) {
	a.cfg = cfg
	for _, st := range a.users {
		st.limit = clampInt(st.limit, cfg.Floor, cfg.Ceiling)
	}
}

func (a *adaptive) state(userID string, now time.Time) *adaptiveState {
	st, ok := a.users[userID]
	if !ok {
		st = &adaptiveState{limit: a.cfg.Seed, lastAdjust: now}
		a.users[userID] = st
	}
	return st
}

func (a *adaptive) limitFor(userID string, now time.Time) int {
	return a.state(userID, now).limit
}

// record appends one outcome and halves the limit as soon as rolling
// engagement over the recent window falls under the threshold. Returns
// the limit before and after.
func (a *adaptive) record(userID string, engaged bool, now time.Time) (old, cur int) {
	st := a.state(userID, now)
	old = st.limit

	st.outcomes = append(st.outcomes, engaged)
	if len(st.outcomes) > outcomeWindow {
		st.outcomes = st.outcomes[len(st.outcomes)-outcomeWindow:]
	}
	if len(st.outcomes) >= minOutcomes && engagementRatio(st.outcomes) < a.cfg.LowEngagement {
		st.limit = clampInt(st.limit/2, a.cfg.Floor, a.cfg.Ceiling)
		// Reset the sample so a single bad stretch is not punished
		// on every subsequent outcome.
		st.outcomes = st.outcomes[:0]
	}
	return old, st.limit
}

// adjustAll nudges every tracked user once per day: +10% when recent
// engagement looks healthy, -10% otherwise, bounded by floor/ceiling.
func (a *adaptive) adjustAll(now time.Time) {
	for _, st := range a.users {
		if now.Sub(st.lastAdjust) < adjustEvery {
			continue
		}
		st.lastAdjust = now
		delta := st.limit / 10
		if delta < 1 {
			delta = 1
		}
		if len(st.outcomes) >= minOutcomes && engagementRatio(st.outcomes) < a.cfg.LowEngagement {
			st.limit = clampInt(st.limit-delta, a.cfg.Floor, a.cfg.Ceiling)
		} else {
			st.limit = clampInt(st.limit+delta, a.cfg.Floor, a.cfg.Ceiling)
		}
	}
}

func engagementRatio(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 1
	}
	n := 0
	for _, v := range outcomes {
		if v {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
