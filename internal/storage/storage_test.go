package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"smartpush/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "smartpush.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s == nil {
		t.Fatalf("Open returned nil store for file driver")
	}
	return s
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " None "} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if s != nil {
			t.Fatalf("Open(%q) = %T, want nil", driver, s)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file driver without path accepted")
	}
}

func TestFileStoreProfiles(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	if _, ok, err := s.LoadProfile(ctx, "u1"); err != nil || ok {
		t.Fatalf("LoadProfile empty = ok %v err %v", ok, err)
	}

	blob := []byte(`{"user_id":"u1"}`)
	if err := s.SaveProfile(ctx, "u1", blob); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	got, ok, err := s.LoadProfile(ctx, "u1")
	if err != nil || !ok || !bytes.Equal(got, blob) {
		t.Fatalf("LoadProfile = %s ok %v err %v", got, ok, err)
	}

	// Returned slices must be copies.
	got[0] = 'X'
	again, _, _ := s.LoadProfile(ctx, "u1")
	if !bytes.Equal(again, blob) {
		t.Fatalf("stored profile aliased caller memory: %s", again)
	}

	if err := s.DeleteProfile(ctx, "u1"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, ok, _ := s.LoadProfile(ctx, "u1"); ok {
		t.Fatalf("profile survived delete")
	}
}

func TestFileStoreDedup(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := s.PutDedup(ctx, "hash1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := s.GetDedup(ctx, "hash1")
	if err != nil || !ok {
		t.Fatalf("GetDedup = ok %v err %v", ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}
	if _, ok, _ := s.GetDedup(ctx, "other"); ok {
		t.Fatalf("unknown key reported present")
	}
}

func TestFileStoreRateHistory(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	for _, d := range []time.Duration{-3 * time.Hour, -time.Hour, -time.Minute} {
		if err := s.AppendRateRecord(ctx, "u1:push", now.Add(d)); err != nil {
			t.Fatalf("AppendRateRecord: %v", err)
		}
	}

	recent, err := s.RateHistory(ctx, "u1:push", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("RateHistory: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent records = %d, want 2", len(recent))
	}
	all, _ := s.RateHistory(ctx, "u1:push", now.Add(-24*time.Hour))
	if len(all) != 3 {
		t.Fatalf("all records = %d, want 3", len(all))
	}
	if none, _ := s.RateHistory(ctx, "unknown", now.Add(-24*time.Hour)); len(none) != 0 {
		t.Fatalf("unknown scope records = %d, want 0", len(none))
	}
}

func TestFileStoreScheduled(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	e := ScheduledEntry{
		ID:      "n1",
		UserID:  "u1",
		At:      time.Now().Add(time.Hour).Truncate(time.Millisecond).UTC(),
		Payload: []byte(`{"id":"n1"}`),
	}
	if err := s.PutScheduled(ctx, e); err != nil {
		t.Fatalf("PutScheduled: %v", err)
	}
	list, err := s.ListScheduled(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListScheduled = %v err %v", list, err)
	}
	if list[0].ID != "n1" || !list[0].At.Equal(e.At) {
		t.Fatalf("entry = %+v, want %+v", list[0], e)
	}

	if err := s.DeleteScheduled(ctx, "n1"); err != nil {
		t.Fatalf("DeleteScheduled: %v", err)
	}
	if list, _ := s.ListScheduled(ctx); len(list) != 0 {
		t.Fatalf("entry survived delete: %v", list)
	}
}

func TestFileStoreRecoversFromJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, dir)
	blob := []byte(`{"user_id":"u1"}`)
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	sched := ScheduledEntry{ID: "n1", UserID: "u1", At: until.UTC()}

	if err := s.SaveProfile(ctx, "u1", blob); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := s.SaveWeights(ctx, "u1", []byte(`{"weights":{}}`)); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}
	if err := s.PutDedup(ctx, "hash1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := s.PutScheduled(ctx, sched); err != nil {
		t.Fatalf("PutScheduled: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh instance over the same path replays the journal.
	s2 := openTestStore(t, dir)
	defer s2.Close()

	got, ok, err := s2.LoadProfile(ctx, "u1")
	if err != nil || !ok || !bytes.Equal(got, blob) {
		t.Fatalf("replayed profile = %s ok %v err %v", got, ok, err)
	}
	if _, ok, _ := s2.LoadWeights(ctx, "u1"); !ok {
		t.Fatalf("replayed weights missing")
	}
	if gotUntil, ok, _ := s2.GetDedup(ctx, "hash1"); !ok || !gotUntil.Equal(until) {
		t.Fatalf("replayed dedup = %v ok %v", gotUntil, ok)
	}
	list, _ := s2.ListScheduled(ctx)
	if len(list) != 1 || list[0].ID != "n1" {
		t.Fatalf("replayed scheduled = %v", list)
	}
}

func TestFileStorePrunesExpiredOnOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, dir)
	if err := s.PutDedup(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := s.AppendRateRecord(ctx, "u1:push", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("AppendRateRecord: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := openTestStore(t, dir)
	defer s2.Close()
	if _, ok, _ := s2.GetDedup(ctx, "stale"); ok {
		t.Fatalf("expired dedup key survived reopen")
	}
	if recs, _ := s2.RateHistory(ctx, "u1:push", time.Now().Add(-72*time.Hour)); len(recs) != 0 {
		t.Fatalf("stale rate records survived reopen: %v", recs)
	}
}

func TestFileStoreWriteAfterClose(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, t.TempDir())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.SaveProfile(context.Background(), "u1", []byte(`{}`)); err == nil {
		t.Fatalf("write after close succeeded")
	}
}
