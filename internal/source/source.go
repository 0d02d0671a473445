// Package source turns a (tool, version) pair into a downloadable artifact
// location. Backends form a closed set dispatched through one interface:
// Registry metadata first, then release-asset listings, then direct-URL
// inference. The order is fixed so version selection stays reproducible.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// Candidate is an available version reported by a backend. Ephemeral:
// produced during resolution, never persisted.
type Candidate struct {
	Version *semver.Version
	// Backend names the backend that produced the candidate so Locate
	// can be routed back to it.
	Backend string
	// IntegrityHint is a published sha256 hex digest when the backend's
	// metadata carries one. Empty is not an error; verification then
	// degrades to trust-on-first-use.
	IntegrityHint string
}

// Location is a downloadable artifact position plus integrity metadata.
type Location struct {
	URL           string
	IntegrityHint string
	SignatureURL  string
	// Compression is "gzip" when the asset must be decompressed during
	// staging, empty otherwise.
	Compression string
}

// Backend resolves tools against one source of version listings.
type Backend interface {
	Name() string
	ListVersions(ctx context.Context, tool string) ([]Candidate, error)
	Locate(ctx context.Context, tool, version string) (Location, error)
}

// NotFoundError reports that a backend has no artifact for the tool; the
// chain falls through to the next backend.
type NotFoundError struct {
	Backend string
	Tool    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("%s: no artifact for %s@%s", e.Backend, e.Tool, e.Version)
	}
	return fmt.Sprintf("%s: no listings for %s", e.Backend, e.Tool)
}

// UnavailableError aggregates per-backend failures when every backend in
// the chain was unreachable.
type UnavailableError struct {
	Tool   string
	Causes []error
}

func (e *UnavailableError) Error() string {
	parts := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		parts[i] = c.Error()
	}
	return fmt.Sprintf("all backends unavailable for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// Chain queries backends in their fixed precedence order.
type Chain struct {
	Backends []Backend
	Logger   zerolog.Logger
}

// ListVersions gathers candidates from every backend. Backends are queried
// concurrently but merged in chain order, and within one version the
// earliest backend wins, so precedence is unaffected by network timing. An
// unreachable backend is skipped with a warning; only when all backends
// fail does the chain report UnavailableError.
func (c *Chain) ListVersions(ctx context.Context, tool string) ([]Candidate, error) {
	results := make([][]Candidate, len(c.Backends))
	errs := make([]error, len(c.Backends))

	var wg sync.WaitGroup
	for i, b := range c.Backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			results[i], errs[i] = b.ListVersions(ctx, tool)
		}(i, b)
	}
	wg.Wait()

	var (
		merged   []Candidate
		seen     = map[string]bool{}
		failures []error
		reached  bool
	)
	for i, b := range c.Backends {
		if err := errs[i]; err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				reached = true
				continue
			}
			c.Logger.Warn().Err(err).Str("backend", b.Name()).Str("tool", tool).
				Msg("backend unreachable, falling through")
			failures = append(failures, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		reached = true
		for _, cand := range results[i] {
			key := cand.Version.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, cand)
		}
	}

	if !reached && len(failures) > 0 {
		return nil, &UnavailableError{Tool: tool, Causes: failures}
	}
	return merged, nil
}

// Locate asks the named backend first, then falls through the remaining
// backends in chain order. A backend that listed a version may still have
// no runnable artifact for it (registry metadata without a phar mapping),
// so locate-time fallthrough mirrors the listing semantics: NotFound moves
// on quietly, unreachable backends are warned about and aggregated.
func (c *Chain) Locate(ctx context.Context, backendName, tool, version string) (Location, error) {
	ordered := make([]Backend, 0, len(c.Backends))
	var preferred Backend
	for _, b := range c.Backends {
		if b.Name() == backendName {
			preferred = b
			continue
		}
		ordered = append(ordered, b)
	}
	if preferred == nil {
		return Location{}, fmt.Errorf("unknown backend %q", backendName)
	}
	ordered = append([]Backend{preferred}, ordered...)

	var (
		failures []error
		lastErr  error
	)
	for _, b := range ordered {
		loc, err := b.Locate(ctx, tool, version)
		if err == nil {
			return loc, nil
		}
		var nf *NotFoundError
		if errors.As(err, &nf) {
			lastErr = err
			continue
		}
		c.Logger.Warn().Err(err).Str("backend", b.Name()).Str("tool", tool).
			Msg("backend unreachable, falling through")
		failures = append(failures, fmt.Errorf("%s: %w", b.Name(), err))
	}

	if len(failures) > 0 {
		return Location{}, &UnavailableError{Tool: tool, Causes: failures}
	}
	return Location{}, lastErr
}
