package content

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryPutGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Put(Item{ID: "c1", Category: "tech", Quality: 0.8})

	it, err := r.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if it.Category != "tech" || it.Quality != 0.8 {
		t.Fatalf("got %+v", it)
	}

	// Replace keeps the latest version.
	r.Put(Item{ID: "c1", Category: "science"})
	it, _ = r.Get(context.Background(), "c1")
	if it.Category != "science" {
		t.Fatalf("replace not applied: %+v", it)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistryIgnoresEmptyID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Put(Item{Category: "tech"})
	if r.Len() != 0 {
		t.Fatalf("empty-id item stored, len = %d", r.Len())
	}
}

func TestRegistryDelete(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Put(Item{ID: "c1"})
	r.Delete("c1")
	if _, err := r.Get(context.Background(), "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("item survived delete: %v", err)
	}
}

func TestItemAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	it := Item{ID: "c1", PublishedAt: now.Add(-3 * time.Hour)}
	if got := it.Age(now); got != 3*time.Hour {
		t.Fatalf("age = %v, want 3h", got)
	}
	if got := (Item{ID: "c2"}).Age(now); got != 0 {
		t.Fatalf("unpublished age = %v, want 0", got)
	}
}
