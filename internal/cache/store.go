// Package cache is the content-keyed on-disk store for fetched tool
// artifacts. Versions are immutable once published, so an entry for an
// exact (tool, version) pair never needs re-downloading; the TTL only
// governs how long range resolutions may be served without re-querying
// backends. Invocations may be separate processes, so all mutation goes
// through atomic file operations plus a lock file rather than in-process
// locks.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var nowFunc = time.Now

// Store is an artifact cache rooted at a single directory. The zero value
// is not usable; construct with New.
type Store struct {
	root    string
	maxSize int64
	ttl     time.Duration
	logger  zerolog.Logger
}

// New creates a store over root with the given size budget and metadata
// TTL. The directory layout beneath root:
//
//	index.json                       cache index
//	tools/<tool>/<version>/<file>    one artifact per entry
//	staging/                         in-flight downloads
func New(root string, maxSize int64, ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{root: root, maxSize: maxSize, ttl: ttl, logger: logger}
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) indexPath() string { return filepath.Join(s.root, "index.json") }
func (s *Store) lockPath() string  { return filepath.Join(s.root, "index.lock") }

// StagingPath reserves a unique path under the staging area. Staged files
// live on the same filesystem as the artifact tree so promotion is a
// rename, never a copy.
func (s *Store) StagingPath() (string, error) {
	dir := filepath.Join(s.root, "staging")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure staging dir: %w", err)
	}
	return filepath.Join(dir, uuid.NewString()+".partial"), nil
}

func (s *Store) artifactPath(tool, version string) string {
	return filepath.Join(s.root, "tools", tool, version, tool+".phar")
}

// Lookup returns the entry for (tool, version) when present and backed by
// an existing artifact file, bumping its last-used time.
func (s *Store) Lookup(ctx context.Context, tool, version string) (Entry, bool, error) {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	defer unlock()

	idx, err := loadIndex(s.indexPath())
	if err != nil {
		return Entry{}, false, err
	}

	entry, ok := idx.Get(tool, version)
	if !ok {
		return Entry{}, false, nil
	}
	if info, err := os.Stat(entry.ArtifactPath); err != nil || info.IsDir() {
		// Stale record: the artifact vanished behind our back.
		idx.Delete(tool, version)
		if err := saveIndex(s.indexPath(), idx); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}

	entry.LastUsedAt = nowFunc().UTC()
	idx.Set(entry)
	if err := saveIndex(s.indexPath(), idx); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Peek is Lookup without the last-used bump or lock, for inspection
// commands.
func (s *Store) Peek(tool, version string) (Entry, bool, error) {
	idx, err := loadIndex(s.indexPath())
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := idx.Get(tool, version)
	return entry, ok, nil
}

// Put promotes a fully verified staged file into the cache. The artifact
// is renamed into place first and the index updated second, both
// atomically, so a concurrent reader either sees the previous state or the
// complete new entry. A losing racer for the same key simply overwrites
// the winner's entry with a content-identical record.
func (s *Store) Put(ctx context.Context, tool, version, stagedPath, contentHash string) (Entry, error) {
	info, err := os.Stat(stagedPath)
	if err != nil {
		return Entry{}, fmt.Errorf("stat staged artifact: %w", err)
	}
	if info.Size() > s.maxSize {
		return Entry{}, fmt.Errorf("artifact %s@%s is %d bytes, exceeding the %d byte cache budget",
			tool, version, info.Size(), s.maxSize)
	}

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	dest := s.artifactPath(tool, version)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Entry{}, fmt.Errorf("ensure artifact dir: %w", err)
	}
	if err := os.Rename(stagedPath, dest); err != nil {
		return Entry{}, fmt.Errorf("promote staged artifact: %w", err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return Entry{}, fmt.Errorf("mark artifact executable: %w", err)
	}

	now := nowFunc().UTC()
	entry := Entry{
		ToolName:     tool,
		Version:      version,
		ArtifactPath: dest,
		SizeBytes:    info.Size(),
		ContentHash:  contentHash,
		FetchedAt:    now,
		LastUsedAt:   now,
	}

	idx, err := loadIndex(s.indexPath())
	if err != nil {
		return Entry{}, err
	}
	idx.Set(entry)

	evicted := s.evictOverBudget(idx, entry.Key())
	for _, victim := range evicted {
		s.logger.Debug().
			Str("tool", victim.ToolName).
			Str("version", victim.Version).
			Int64("size", victim.SizeBytes).
			Msg("evicted cache entry over size budget")
	}

	if err := saveIndex(s.indexPath(), idx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// evictOverBudget removes least-recently-used entries until the total size
// fits the budget, deleting their artifact files. The entry keyed by
// protect is never a victim; Put guarantees it fits the budget alone, so
// evicting everything else always restores the bound. Returns the victims.
func (s *Store) evictOverBudget(idx *Index, protect string) []Entry {
	var evicted []Entry
	for idx.TotalSize() > s.maxSize && len(idx.Entries) > 1 {
		var oldest Entry
		first := true
		for key, e := range idx.Entries {
			if key == protect {
				continue
			}
			if first || e.LastUsedAt.Before(oldest.LastUsedAt) {
				oldest = e
				first = false
			}
		}
		if first {
			break
		}
		idx.Delete(oldest.ToolName, oldest.Version)
		s.removeArtifact(oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// FreshFor reports whether the entry's TTL window still covers a
// range/unconstrained resolution. Exact-pin hits never consult this.
func (s *Store) FreshFor(entry Entry) bool {
	return nowFunc().UTC().Sub(entry.FetchedAt) <= s.ttl
}

// List returns all entries ordered by (tool, version).
func (s *Store) List() ([]Entry, error) {
	idx, err := loadIndex(s.indexPath())
	if err != nil {
		return nil, err
	}
	return idx.Sorted(), nil
}

// Info returns the entries for one tool, ordered by version.
func (s *Store) Info(tool string) ([]Entry, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.ToolName == tool {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clean removes every entry for the named tool, or the whole cache when
// tool is empty. Artifact files and empty directories are reclaimed.
func (s *Store) Clean(ctx context.Context, tool string) (int, error) {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	idx, err := loadIndex(s.indexPath())
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range idx.Sorted() {
		if tool != "" && e.ToolName != tool {
			continue
		}
		idx.Delete(e.ToolName, e.Version)
		s.removeArtifact(e)
		removed++
	}

	if err := saveIndex(s.indexPath(), idx); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Store) removeArtifact(e Entry) {
	if err := os.Remove(e.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", e.ArtifactPath).Msg("remove cached artifact")
		return
	}
	// Drop now-empty version and tool directories; best effort.
	dir := filepath.Dir(e.ArtifactPath)
	for i := 0; i < 2; i++ {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// acquireLock serializes index mutation across processes using an
// exclusive-create lock file, polling until the holder releases it or the
// context is cancelled.
func (s *Store) acquireLock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache root: %w", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = f.Close()
			lock := s.lockPath()
			return func() { _ = os.Remove(lock) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire cache lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire cache lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
