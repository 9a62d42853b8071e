package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"smartpush/internal/storage"
	logx "smartpush/pkg/logx"
)

// Schedule persists a future notification and arms its timer. Scheduling
// the same ID again replaces the previous entry (upsert). Entries whose
// time already passed fire immediately.
func (s *Service) Schedule(ctx context.Context, e storage.ScheduledEntry) error {
	if e.ID == "" {
		return errors.New("entry id required")
	}
	if e.At.IsZero() {
		return errors.New("entry time required")
	}

	if s.store != nil {
		if err := s.store.PutScheduled(ctx, e); err != nil {
			return fmt.Errorf("persist scheduled notification: %w", err)
		}
	}

	s.tmu.Lock()
	s.entries[e.ID] = e
	s.armLocked(e)
	s.tmu.Unlock()

	s.log.Debug("notification scheduled",
		logx.String("id", e.ID), logx.String("user", e.UserID), logx.Time("at", e.At))
	return nil
}

// Cancel removes a scheduled notification. Idempotent: cancelling an
// unknown or already-fired ID is a no-op returning false.
func (s *Service) Cancel(ctx context.Context, id string) bool {
	s.tmu.Lock()
	_, known := s.entries[id]
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	delete(s.entries, id)
	// Bump the version so an in-flight timer callback sees it is stale.
	s.vers[id]++
	s.tmu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteScheduled(ctx, id); err != nil {
			s.log.Warn("scheduled delete failed", logx.String("id", id), logx.Err(err))
		}
	}
	if known {
		s.log.Debug("scheduled notification cancelled", logx.String("id", id))
	}
	return known
}

// Pending lists currently armed entries, soonest first.
func (s *Service) Pending() []storage.ScheduledEntry {
	s.tmu.Lock()
	out := make([]storage.ScheduledEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// armLocked creates the runtime timer for an entry. Call with s.tmu held.
func (s *Service) armLocked(e storage.ScheduledEntry) {
	if t, ok := s.timers[e.ID]; ok {
		_ = t.Stop()
		delete(s.timers, e.ID)
	}
	ver := s.vers[e.ID] + 1
	s.vers[e.ID] = ver

	delay := time.Until(e.At)
	if delay < 0 {
		delay = 0
	}
	id := e.ID
	localVer := ver
	s.timers[id] = time.AfterFunc(delay, func() {
		// A fire racing a Stop leaves the entry persisted; it re-arms on
		// the next Start instead of being consumed and dropped.
		s.mu.Lock()
		running := s.queue != nil
		s.mu.Unlock()
		if !running {
			return
		}

		s.tmu.Lock()
		if s.vers[id] != localVer {
			s.tmu.Unlock()
			return
		}
		entry, ok := s.entries[id]
		fire := s.fire
		// Drop the definition first so a racing restart cannot fire twice.
		delete(s.timers, id)
		delete(s.entries, id)
		delete(s.vers, id)
		s.tmu.Unlock()
		if !ok {
			return
		}

		if s.store != nil {
			if err := s.store.DeleteScheduled(context.Background(), id); err != nil {
				s.log.Warn("scheduled delete failed", logx.String("id", id), logx.Err(err))
			}
		}
		if fire == nil {
			s.log.Warn("scheduled notification fired with no handler", logx.String("id", id))
			return
		}

		s.mu.Lock()
		cfgNow := s.cfg
		s.mu.Unlock()
		s.enqueue(task{
			id:      fmt.Sprintf("fire:%d", time.Now().UnixNano()),
			name:    "deliver:" + id,
			timeout: s.resolveTimeout(0),
			run: func(ctx context.Context) error {
				return fire(ctx, entry)
			},
			opt:   TaskOptions{}.withDefaults(cfgNow),
			state: &runState{},
		})
	})
}

// rebuildTimersLocked reloads persisted entries and re-arms their timers.
// Call with s.mu held (Start path).
func (s *Service) rebuildTimersLocked(ctx context.Context) {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}

	if s.store != nil {
		persisted, err := s.store.ListScheduled(ctx)
		if err != nil {
			s.log.Warn("scheduled reload failed", logx.Err(err))
		} else {
			for _, e := range persisted {
				s.entries[e.ID] = e
			}
		}
	}
	for _, e := range s.entries {
		s.armLocked(e)
	}
}
