package behavior

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	// historyCap bounds the per-user raw event buffer.
	historyCap = 100
	// sessionIdleTTL prunes content sessions with no activity for a day.
	sessionIdleTTL = 24 * time.Hour
)

// History keeps a bounded per-user event buffer plus per-(user,content)
// session event lists for the session analyzer.
//
// Like the live processor it is sharded by user id; cross-user calls never
// contend.
type History struct {
	shards [processorShards]*historyShard
}

type historyShard struct {
	mu       sync.Mutex
	events   map[string][]Event        // userID -> bounded buffer
	sessions map[string]*contentTrack  // userID|contentID -> track
}

type contentTrack struct {
	events []Event
	last   time.Time
}

func NewHistory() *History {
	h := &History{}
	for i := range h.shards {
		h.shards[i] = &historyShard{
			events:   map[string][]Event{},
			sessions: map[string]*contentTrack{},
		}
	}
	return h
}

func (h *History) shardFor(userID string) *historyShard {
	fh := fnv.New32a()
	_, _ = fh.Write([]byte(userID))
	return h.shards[fh.Sum32()%processorShards]
}

// Append records the event in the user buffer and, when it carries a content
// id, in that content's session track.
func (h *History) Append(e Event) {
	sh := h.shardFor(e.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	buf := append(sh.events[e.UserID], e)
	if len(buf) > historyCap {
		buf = buf[len(buf)-historyCap:]
	}
	sh.events[e.UserID] = buf

	if e.ContentID == "" {
		return
	}
	key := e.UserID + "|" + e.ContentID
	tr, ok := sh.sessions[key]
	if !ok {
		tr = &contentTrack{}
		sh.sessions[key] = tr
	}
	tr.events = append(tr.events, e)
	tr.last = e.At
}

// Events returns a copy of the user's buffered events.
func (h *History) Events(userID string) []Event {
	sh := h.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return append([]Event(nil), sh.events[userID]...)
}

// SessionEvents returns a copy of the events tracked for one content item.
func (h *History) SessionEvents(userID, contentID string) []Event {
	sh := h.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	tr, ok := sh.sessions[userID+"|"+contentID]
	if !ok {
		return nil
	}
	return append([]Event(nil), tr.events...)
}

// EndSession removes and returns a content session's events, typically when
// the analyzer consumes them on session_end or read_complete.
func (h *History) EndSession(userID, contentID string) []Event {
	sh := h.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	key := userID + "|" + contentID
	tr, ok := sh.sessions[key]
	if !ok {
		return nil
	}
	delete(sh.sessions, key)
	return tr.events
}

// Prune drops session tracks idle for longer than a day.
func (h *History) Prune(now time.Time) int {
	removed := 0
	for _, sh := range h.shards {
		sh.mu.Lock()
		for key, tr := range sh.sessions {
			if now.Sub(tr.last) >= sessionIdleTTL {
				delete(sh.sessions, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
