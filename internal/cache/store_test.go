package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"phpx/internal/security"
)

func newTestStore(t *testing.T, maxSize int64) *Store {
	t.Helper()
	return New(t.TempDir(), maxSize, 7*24*time.Hour, zerolog.Nop())
}

func stage(t *testing.T, s *Store, content string) (string, string) {
	t.Helper()
	staged, err := s.StagingPath()
	if err != nil {
		t.Fatalf("StagingPath: %v", err)
	}
	if err := os.WriteFile(staged, []byte(content), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	hash, err := security.Hash(staged)
	if err != nil {
		t.Fatalf("hash staged: %v", err)
	}
	return staged, hash
}

func TestPutLookupRoundTrip(t *testing.T) {
	s := newTestStore(t, 1<<20)
	ctx := context.Background()

	staged, hash := stage(t, s, "phpstan payload")
	put, err := s.Put(ctx, "phpstan", "1.11.0", staged, hash)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, ok, err := s.Lookup(ctx, "phpstan", "1.11.0")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.ContentHash != hash {
		t.Fatalf("content hash %s, want %s", entry.ContentHash, hash)
	}

	// The indexed artifact must hash to the recorded content hash.
	recomputed, err := security.Hash(entry.ArtifactPath)
	if err != nil {
		t.Fatalf("recompute hash: %v", err)
	}
	if recomputed != put.ContentHash {
		t.Fatalf("artifact hash %s does not match index %s", recomputed, put.ContentHash)
	}

	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatal("staged file should have been promoted, not copied")
	}
}

func TestPutRejectsArtifactOverBudget(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()

	staged, hash := stage(t, s, "twenty bytes of phar..")
	if _, err := s.Put(ctx, "huge", "1.0.0", staged, hash); err == nil {
		t.Fatal("expected error for artifact exceeding the cache budget")
	}
	if _, ok, _ := s.Peek("huge", "1.0.0"); ok {
		t.Fatal("rejected artifact must not be indexed")
	}
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged file must be left for the caller to discard: %v", err)
	}
}

func TestPutNeverEvictsItsOwnEntry(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return base }
	t.Cleanup(func() { nowFunc = time.Now })

	staged, hash := stage(t, s, "aaaaaaaaaa")
	if _, err := s.Put(ctx, "old", "1.0.0", staged, hash); err != nil {
		t.Fatalf("Put old: %v", err)
	}

	// Same clock reading for both entries: the just-promoted one must
	// still survive and the prior one go.
	staged, hash = stage(t, s, "bbbbbbbbbb")
	entry, err := s.Put(ctx, "new", "1.0.0", staged, hash)
	if err != nil {
		t.Fatalf("Put new: %v", err)
	}
	if _, statErr := os.Stat(entry.ArtifactPath); statErr != nil {
		t.Fatalf("promoted artifact must exist: %v", statErr)
	}
	if _, ok, _ := s.Peek("new", "1.0.0"); !ok {
		t.Fatal("just-promoted entry must stay indexed")
	}
	if _, ok, _ := s.Peek("old", "1.0.0"); ok {
		t.Fatal("prior entry should have been evicted")
	}
}

func TestLookupMissReturnsNoEntry(t *testing.T) {
	s := newTestStore(t, 1<<20)
	_, ok, err := s.Lookup(context.Background(), "phpstan", "9.9.9")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestLookupDropsStaleRecordWhenArtifactMissing(t *testing.T) {
	s := newTestStore(t, 1<<20)
	ctx := context.Background()

	staged, hash := stage(t, s, "payload")
	entry, err := s.Put(ctx, "psalm", "5.0.0", staged, hash)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.Remove(entry.ArtifactPath); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	_, ok, err := s.Lookup(ctx, "psalm", "5.0.0")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected miss after artifact removal")
	}
}

func TestEvictionKeepsTotalUnderBudget(t *testing.T) {
	s := newTestStore(t, 25)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	nowFunc = func() time.Time { return clock }
	t.Cleanup(func() { nowFunc = time.Now })

	// Ten bytes each; the third put pushes the total past 25.
	for i, version := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		clock = base.Add(time.Duration(i) * time.Minute)
		staged, hash := stage(t, s, "0123456789")
		if _, err := s.Put(ctx, "rector", version, staged, hash); err != nil {
			t.Fatalf("Put %s: %v", version, err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	if total > 25 {
		t.Fatalf("total size %d exceeds budget", total)
	}

	// Strict LRU: the oldest entry went first.
	if _, ok, _ := s.Lookup(ctx, "rector", "1.0.0"); ok {
		t.Fatal("expected 1.0.0 to be evicted")
	}
	if _, ok, _ := s.Lookup(ctx, "rector", "1.2.0"); !ok {
		t.Fatal("expected newest entry to survive")
	}
}

func TestCleanTool(t *testing.T) {
	s := newTestStore(t, 1<<20)
	ctx := context.Background()

	for _, put := range [][2]string{{"phpstan", "1.10.0"}, {"phpstan", "1.11.0"}, {"psalm", "5.0.0"}} {
		staged, hash := stage(t, s, put[0]+put[1])
		if _, err := s.Put(ctx, put[0], put[1], staged, hash); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	removed, err := s.Clean(ctx, "phpstan")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d entries, want 2", removed)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].ToolName != "psalm" {
		t.Fatalf("unexpected survivors: %+v", entries)
	}

	if _, err := os.Stat(filepath.Join(s.Root(), "tools", "phpstan")); !os.IsNotExist(err) {
		t.Fatal("phpstan artifact tree should be reclaimed")
	}
}

func TestCleanAllEmptiesIndex(t *testing.T) {
	s := newTestStore(t, 1<<20)
	ctx := context.Background()

	staged, hash := stage(t, s, "payload")
	if _, err := s.Put(ctx, "phpcs", "3.9.0", staged, hash); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Clean(ctx, ""); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, got %+v", entries)
	}
}

func TestFreshForHonorsTTL(t *testing.T) {
	s := New(t.TempDir(), 1<<20, time.Hour, zerolog.Nop())

	entry := Entry{FetchedAt: time.Now().UTC().Add(-30 * time.Minute)}
	if !s.FreshFor(entry) {
		t.Fatal("entry inside TTL window should be fresh")
	}
	entry.FetchedAt = time.Now().UTC().Add(-2 * time.Hour)
	if s.FreshFor(entry) {
		t.Fatal("entry past TTL window should be stale")
	}
}

func TestListOrderedByToolThenVersion(t *testing.T) {
	s := newTestStore(t, 1<<20)
	ctx := context.Background()

	for _, put := range [][2]string{{"psalm", "5.0.0"}, {"phpstan", "1.11.0"}, {"phpstan", "1.10.0"}} {
		staged, hash := stage(t, s, put[0]+put[1])
		if _, err := s.Put(ctx, put[0], put[1], staged, hash); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"phpstan@1.10.0", "phpstan@1.11.0", "psalm@5.0.0"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Key() != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, e.Key(), want[i])
		}
	}
}
