package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const indexVersion = 1

// Entry keeps metadata about one cached tool artifact. ArtifactPath always
// names a fully written file whose sha256 equals ContentHash; partially
// written artifacts are never indexed.
type Entry struct {
	ToolName     string    `json:"tool_name"`
	Version      string    `json:"version"`
	ArtifactPath string    `json:"artifact_path"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentHash  string    `json:"content_hash"`
	FetchedAt    time.Time `json:"fetched_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// Key returns the index key for the entry's (tool, version) pair.
func (e Entry) Key() string { return entryKey(e.ToolName, e.Version) }

// Index is the persisted cache state, stored as index.json beside the
// artifact tree. The on-disk shape is part of the compatibility surface
// when cache directories are shared across machine images.
type Index struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

func newIndex() *Index {
	return &Index{Version: indexVersion, Entries: map[string]Entry{}}
}

func (idx *Index) normalize() {
	if idx.Version == 0 {
		idx.Version = indexVersion
	}
	if idx.Entries == nil {
		idx.Entries = map[string]Entry{}
	}
}

// Get returns the entry for a (tool, version) pair when present.
func (idx *Index) Get(tool, version string) (Entry, bool) {
	if idx == nil || idx.Entries == nil {
		return Entry{}, false
	}
	entry, ok := idx.Entries[entryKey(tool, version)]
	return entry, ok
}

// Set stores an entry, replacing any record under the same key.
func (idx *Index) Set(entry Entry) {
	if idx.Entries == nil {
		idx.Entries = map[string]Entry{}
	}
	idx.Entries[entry.Key()] = entry
}

// Delete removes the entry for a (tool, version) pair.
func (idx *Index) Delete(tool, version string) {
	delete(idx.Entries, entryKey(tool, version))
}

// TotalSize sums the recorded artifact sizes.
func (idx *Index) TotalSize() int64 {
	var total int64
	for _, e := range idx.Entries {
		total += e.SizeBytes
	}
	return total
}

// Sorted returns all entries ordered by (tool, version).
func (idx *Index) Sorted() []Entry {
	out := make([]Entry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ToolName != out[j].ToolName {
			return out[i].ToolName < out[j].ToolName
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func entryKey(tool, version string) string {
	return tool + "@" + version
}

// loadIndex reads index.json, returning an empty index when the file is
// missing.
func loadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newIndex(), nil
		}
		return nil, fmt.Errorf("read cache index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode cache index: %w", err)
	}
	idx.normalize()
	return &idx, nil
}

// saveIndex writes index.json atomically so a concurrent reader never
// observes a torn index.
func saveIndex(path string, idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure cache dir: %w", err)
	}
	if idx == nil {
		idx = newIndex()
	}
	idx.normalize()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}
