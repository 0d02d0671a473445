// Package resolver drives the request pipeline from tool name to
// runnable artifact: local lookup, cache lookup, backend resolution,
// download, verification.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"phpx/internal/cache"
	"phpx/internal/config"
	"phpx/internal/paths"
	"phpx/internal/security"
	"phpx/internal/source"
	"phpx/internal/version"
)

// Pipeline states, reported in error context.
const (
	StateLocalLookup       = "local-lookup"
	StateCacheLookup       = "cache-lookup"
	StateBackendResolution = "backend-resolution"
	StateDownload          = "download"
	StateVerify            = "verify"
	StateCacheWrite        = "cache-write"
)

// StateError annotates a failure with the pipeline state it occurred in.
type StateError struct {
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// Downloader is satisfied by download.Fetcher.
type Downloader interface {
	Fetch(ctx context.Context, loc source.Location, stagingPath string) error
}

// Sources is satisfied by source.Chain.
type Sources interface {
	ListVersions(ctx context.Context, tool string) ([]source.Candidate, error)
	Locate(ctx context.Context, backendName, tool, version string) (source.Location, error)
}

// ToolRequest is a parsed invocation target.
type ToolRequest struct {
	Name       string
	Constraint version.Constraint

	ForceRefresh bool
	SkipCache    bool
	SkipVerify   bool
	NoLocal      bool
}

// ResolvedArtifact is a runnable artifact on local disk.
type ResolvedArtifact struct {
	Path      string
	Version   string
	Verified  bool
	FromCache bool
	Local     bool
}

// Service resolves tool requests to artifacts.
type Service struct {
	Config     config.Config
	Store      *cache.Store
	Sources    Sources
	Fetcher    Downloader
	Signatures security.SignatureVerifier
	Logger     zerolog.Logger

	// WorkDir is the directory local lookup starts from. Empty means
	// the process working directory.
	WorkDir string
}

// Resolve walks the pipeline for req. The returned artifact path is
// always an existing executable file.
func (s *Service) Resolve(ctx context.Context, req ToolRequest) (ResolvedArtifact, error) {
	if req.Name == "" {
		return ResolvedArtifact{}, errors.New("empty tool name")
	}

	if art, ok := s.localLookup(req); ok {
		return art, nil
	}

	if art, ok, err := s.cacheLookup(ctx, req); err != nil {
		return ResolvedArtifact{}, &StateError{State: StateCacheLookup, Err: err}
	} else if ok {
		return art, nil
	}

	return s.resolveRemote(ctx, req)
}

// localLookup checks project vendor/bin and the global composer bin
// dirs. Local binaries carry no version metadata, so only
// unconstrained requests can use them.
func (s *Service) localLookup(req ToolRequest) (ResolvedArtifact, bool) {
	if req.NoLocal || req.Constraint.Kind() != version.Unconstrained {
		return ResolvedArtifact{}, false
	}
	start := s.WorkDir
	if start == "" {
		start, _ = os.Getwd()
	}
	var dirs []string
	if bin, ok := paths.ProjectBinDir(start); ok {
		dirs = append(dirs, bin)
	}
	dirs = append(dirs, paths.GlobalBinDirs()...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, req.Name)
		if paths.FileExists(candidate) {
			s.Logger.Debug().Str("path", candidate).Msg("using local binary")
			return ResolvedArtifact{Path: candidate, Version: "local", Local: true}, true
		}
	}
	return ResolvedArtifact{}, false
}

// cacheLookup serves a request from the cache when possible. Exact
// pins are honored regardless of age; range constraints only when the
// best cached match is within the freshness window.
func (s *Service) cacheLookup(ctx context.Context, req ToolRequest) (ResolvedArtifact, bool, error) {
	if req.SkipCache || req.ForceRefresh {
		return ResolvedArtifact{}, false, nil
	}

	if v, ok := req.Constraint.ExactVersion(); ok {
		entry, hit, err := s.Store.Lookup(ctx, req.Name, v.String())
		if err != nil || !hit {
			return ResolvedArtifact{}, false, err
		}
		return fromEntry(entry), true, nil
	}

	entry, hit, err := s.bestCached(ctx, req)
	if err != nil || !hit {
		return ResolvedArtifact{}, false, err
	}
	if !s.Store.FreshFor(entry) {
		return ResolvedArtifact{}, false, nil
	}
	// Re-read through Lookup to bump the recency stamp.
	entry, hit, err = s.Store.Lookup(ctx, req.Name, entry.Version)
	if err != nil || !hit {
		return ResolvedArtifact{}, false, err
	}
	return fromEntry(entry), true, nil
}

// bestCached returns the newest cached version of the tool satisfying
// the constraint, without touching recency.
func (s *Service) bestCached(ctx context.Context, req ToolRequest) (cache.Entry, bool, error) {
	entries, err := s.Store.Info(req.Name)
	if err != nil {
		return cache.Entry{}, false, err
	}
	var versions []*semver.Version
	byVersion := make(map[string]cache.Entry, len(entries))
	for _, e := range entries {
		v, err := semver.NewVersion(e.Version)
		if err != nil {
			continue
		}
		if req.Constraint.Matches(v) {
			versions = append(versions, v)
			byVersion[v.String()] = e
		}
	}
	best, err := req.Constraint.Select(versions)
	if err != nil {
		return cache.Entry{}, false, nil
	}
	return byVersion[best.String()], true, nil
}

func (s *Service) resolveRemote(ctx context.Context, req ToolRequest) (ResolvedArtifact, error) {
	candidates, err := s.Sources.ListVersions(ctx, req.Name)
	if err != nil {
		var ue *source.UnavailableError
		if errors.As(err, &ue) && !req.SkipCache {
			// All backends down. A stale cached match beats a failure.
			if entry, hit, berr := s.bestCached(ctx, req); berr == nil && hit {
				s.Logger.Warn().
					Str("tool", req.Name).
					Str("version", entry.Version).
					Msg("backends unreachable, using stale cached artifact")
				return fromEntry(entry), nil
			}
		}
		return ResolvedArtifact{}, &StateError{State: StateBackendResolution, Err: err}
	}

	versions := make([]*semver.Version, len(candidates))
	byVersion := make(map[string]source.Candidate, len(candidates))
	for i, c := range candidates {
		versions[i] = c.Version
		byVersion[c.Version.String()] = c
	}
	selected, err := req.Constraint.Select(versions)
	if err != nil {
		return ResolvedArtifact{}, &StateError{State: StateBackendResolution, Err: err}
	}
	chosen := byVersion[selected.String()]

	// A range that resolves to an already-cached version skips the
	// network transfer even when the record had aged out.
	if !req.SkipCache && !req.ForceRefresh {
		if entry, hit, err := s.Store.Lookup(ctx, req.Name, selected.String()); err == nil && hit {
			return fromEntry(entry), nil
		}
	}

	loc, err := s.Sources.Locate(ctx, chosen.Backend, req.Name, selected.String())
	if err != nil {
		return ResolvedArtifact{}, &StateError{State: StateBackendResolution, Err: err}
	}

	staged, err := s.download(ctx, loc)
	if err != nil {
		return ResolvedArtifact{}, &StateError{State: StateDownload, Err: err}
	}

	hash, verified, err := s.verify(ctx, req, chosen, loc, staged)
	if err != nil {
		os.Remove(staged)
		return ResolvedArtifact{}, &StateError{State: StateVerify, Err: err}
	}

	entry, err := s.Store.Put(ctx, req.Name, selected.String(), staged, hash)
	if err != nil {
		os.Remove(staged)
		return ResolvedArtifact{}, &StateError{State: StateCacheWrite, Err: err}
	}

	art := fromEntry(entry)
	art.Verified = verified
	art.FromCache = false
	return art, nil
}

func (s *Service) download(ctx context.Context, loc source.Location) (string, error) {
	staged, err := s.Store.StagingPath()
	if err != nil {
		return "", err
	}
	if err := s.Fetcher.Fetch(ctx, loc, staged); err != nil {
		os.Remove(staged)
		return "", err
	}
	return staged, nil
}

// verify hashes the staged artifact and compares it against the best
// available expectation: a backend integrity hint, or the hash from a
// previous download of the same version. With no expectation the hash
// is recorded for future comparisons.
func (s *Service) verify(ctx context.Context, req ToolRequest, chosen source.Candidate, loc source.Location, staged string) (string, bool, error) {
	expected := chosen.IntegrityHint
	if expected == "" {
		if prior, hit, err := s.Store.Peek(req.Name, chosen.Version.String()); err == nil && hit {
			expected = prior.ContentHash
		}
	}

	if req.SkipVerify || s.Config.SkipVerify {
		hash, err := security.Hash(staged)
		if err != nil {
			return "", false, err
		}
		s.Logger.Debug().Str("tool", req.Name).Msg("integrity verification skipped")
		return hash, false, nil
	}

	if expected == "" {
		hash, err := security.Hash(staged)
		if err != nil {
			return "", false, err
		}
		s.Logger.Debug().
			Str("tool", req.Name).
			Str("hash", hash).
			Msg("no integrity hint, recording hash for future downloads")
		return hash, false, nil
	}

	hash, err := security.Verify(staged, expected)
	if err != nil {
		return "", false, err
	}

	if loc.SignatureURL != "" && s.Signatures != nil {
		if err := s.Signatures.VerifySignature(staged, loc.SignatureURL); err != nil {
			if errors.Is(err, security.ErrNotPerformed) {
				s.Logger.Debug().Str("tool", req.Name).Msg("signature present but not checked")
			} else {
				return "", false, err
			}
		}
	}
	return hash, true, nil
}

func fromEntry(e cache.Entry) ResolvedArtifact {
	return ResolvedArtifact{
		Path:      e.ArtifactPath,
		Version:   e.Version,
		Verified:  e.ContentHash != "",
		FromCache: true,
	}
}
