package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "smartpush/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// All state is held in memory and journaled on write; the journal is
// periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	profiles  map[string][]byte
	dedup     map[string]int64 // unix milli until
	rate      map[string][]int64
	scheduled map[string]ScheduledEntry
	weights   map[string][]byte

	writes int
}

// rateTTL bounds how long rate records are retained.
const rateTTL = 24 * time.Hour

const compactEvery = 1000

type journalRecord struct {
	Kind  string          `json:"kind"` // profile, dedup, rate, sched, sched_del, weights
	Key   string          `json:"key"`
	Until int64           `json:"until,omitempty"`
	At    int64           `json:"at,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type snapshotState struct {
	Profiles  map[string][]byte         `json:"profiles,omitempty"`
	Dedup     map[string]int64          `json:"dedup,omitempty"`
	Rate      map[string][]int64        `json:"rate,omitempty"`
	Scheduled map[string]ScheduledEntry `json:"scheduled,omitempty"`
	Weights   map[string][]byte         `json:"weights,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		profiles:     map[string][]byte{},
		dedup:        map[string]int64{},
		rate:         map[string][]int64{},
		scheduled:    map[string]ScheduledEntry{},
		weights:      map[string][]byte{},
	}

	_ = s.loadSnapshot(snapPath)
	_ = s.replayJournal(journalPath)
	s.pruneLocked(time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

// ---- profiles ----

func (s *fileStore) SaveProfile(ctx context.Context, userID string, data []byte) error {
	_ = ctx
	if userID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = append([]byte(nil), data...)
	return s.appendLocked(journalRecord{Kind: "profile", Key: userID, Data: data})
}

func (s *fileStore) LoadProfile(ctx context.Context, userID string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.profiles[userID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *fileStore) DeleteProfile(ctx context.Context, userID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return s.appendLocked(journalRecord{Kind: "profile_del", Key: userID})
}

// ---- dedup ----

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until.UnixMilli()
	return s.appendLocked(journalRecord{Kind: "dedup", Key: key, Until: until.UnixMilli()})
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// ---- rate records ----

func (s *fileStore) AppendRateRecord(ctx context.Context, scope string, at time.Time) error {
	_ = ctx
	if scope == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate[scope] = append(s.rate[scope], at.UnixMilli())
	return s.appendLocked(journalRecord{Kind: "rate", Key: scope, At: at.UnixMilli()})
}

func (s *fileStore) RateHistory(ctx context.Context, scope string, since time.Time) ([]time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cut := since.UnixMilli()
	var out []time.Time
	for _, ms := range s.rate[scope] {
		if ms >= cut {
			out = append(out, time.UnixMilli(ms))
		}
	}
	return out, nil
}

// ---- scheduled ----

func (s *fileStore) PutScheduled(ctx context.Context, e ScheduledEntry) error {
	_ = ctx
	if e.ID == "" {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[e.ID] = e
	return s.appendLocked(journalRecord{Kind: "sched", Key: e.ID, Data: data})
}

func (s *fileStore) DeleteScheduled(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
	return s.appendLocked(journalRecord{Kind: "sched_del", Key: id})
}

func (s *fileStore) ListScheduled(ctx context.Context) ([]ScheduledEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledEntry, 0, len(s.scheduled))
	for _, e := range s.scheduled {
		out = append(out, e)
	}
	return out, nil
}

// ---- weights ----

func (s *fileStore) SaveWeights(ctx context.Context, userID string, data []byte) error {
	_ = ctx
	if userID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[userID] = append([]byte(nil), data...)
	return s.appendLocked(journalRecord{Kind: "weights", Key: userID, Data: data})
}

func (s *fileStore) LoadWeights(ctx context.Context, userID string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.weights[userID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// ---- journal plumbing ----

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("store compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	s.pruneLocked(time.Now())

	snap := snapshotState{
		Profiles:  s.profiles,
		Dedup:     s.dedup,
		Rate:      s.rate,
		Scheduled: s.scheduled,
		Weights:   s.weights,
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

// pruneLocked drops expired dedup hashes and rate records older than 24h.
func (s *fileStore) pruneLocked(now time.Time) {
	nowMs := now.UnixMilli()
	for k, v := range s.dedup {
		if v < nowMs {
			delete(s.dedup, k)
		}
	}
	cut := now.Add(-rateTTL).UnixMilli()
	for scope, times := range s.rate {
		kept := times[:0]
		for _, ms := range times {
			if ms >= cut {
				kept = append(kept, ms)
			}
		}
		if len(kept) == 0 {
			delete(s.rate, scope)
		} else {
			s.rate[scope] = kept
		}
	}
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshotState
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	if snap.Profiles != nil {
		s.profiles = snap.Profiles
	}
	if snap.Dedup != nil {
		s.dedup = snap.Dedup
	}
	if snap.Rate != nil {
		s.rate = snap.Rate
	}
	if snap.Scheduled != nil {
		s.scheduled = snap.Scheduled
	}
	if snap.Weights != nil {
		s.weights = snap.Weights
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Kind {
		case "profile":
			s.profiles[r.Key] = append([]byte(nil), r.Data...)
		case "profile_del":
			delete(s.profiles, r.Key)
		case "dedup":
			s.dedup[r.Key] = r.Until
		case "rate":
			s.rate[r.Key] = append(s.rate[r.Key], r.At)
		case "sched":
			var e ScheduledEntry
			if json.Unmarshal(r.Data, &e) == nil && e.ID != "" {
				s.scheduled[e.ID] = e
			}
		case "sched_del":
			delete(s.scheduled, r.Key)
		case "weights":
			s.weights[r.Key] = append([]byte(nil), r.Data...)
		}
	}
	return sc.Err()
}
