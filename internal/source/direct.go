package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const backendDirectURL = "direct-url"

// DirectURL is the last-resort backend: it probes conventional release
// download paths when no registry or API metadata exists. The "latest"
// redirect on GitHub reveals the concrete tag, which supplies the version
// the cache is keyed by.
type DirectURL struct {
	// BaseURL defaults to the public github.com download host.
	BaseURL string
	Hints   Hints
	Client  *http.Client
}

func (d *DirectURL) Name() string { return backendDirectURL }

func (d *DirectURL) baseURL() string {
	if d.BaseURL != "" {
		return strings.TrimSuffix(d.BaseURL, "/")
	}
	return "https://github.com"
}

func (d *DirectURL) client() *http.Client {
	base := d.Client
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	// Redirects are inspected, not followed: the Location header of the
	// /releases/latest/download/ probe carries the versioned path.
	return &http.Client{
		Transport: base.Transport,
		Timeout:   base.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (d *DirectURL) assetName(tool string) string {
	if hint, ok := d.Hints[tool]; ok && hint.Asset != "" && !strings.Contains(hint.Asset, "{version}") {
		return hint.Asset
	}
	return tool + ".phar"
}

func (d *DirectURL) ListVersions(ctx context.Context, tool string) ([]Candidate, error) {
	asset := d.assetName(tool)

	var lastErr error
	for _, repo := range d.Hints.repoCandidatesFor(tool) {
		probe := fmt.Sprintf("%s/%s/releases/latest/download/%s", d.baseURL(), repo, asset)
		version, err := d.probeLatest(ctx, probe)
		if err != nil {
			lastErr = err
			continue
		}
		if version == nil {
			continue
		}
		return []Candidate{{Version: version, Backend: backendDirectURL}}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &NotFoundError{Backend: backendDirectURL, Tool: tool}
}

// probeLatest issues a HEAD against the latest-download path and parses
// the version out of the redirect target. A nil version with nil error
// means the path simply does not exist.
func (d *DirectURL) probeLatest(ctx context.Context, probeURL string) (*semver.Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", probeURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return nil, nil
	}

	target := resp.Header.Get("Location")
	tag, ok := tagFromDownloadPath(target)
	if !ok {
		return nil, nil
	}
	v, err := semver.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return nil, nil
	}
	return v, nil
}

// tagFromDownloadPath extracts <tag> from .../releases/download/<tag>/<asset>.
func tagFromDownloadPath(target string) (string, bool) {
	const marker = "/releases/download/"
	idx := strings.Index(target, marker)
	if idx < 0 {
		return "", false
	}
	rest := target[idx+len(marker):]
	tag, _, found := strings.Cut(rest, "/")
	if !found || tag == "" {
		return "", false
	}
	return tag, true
}

func (d *DirectURL) Locate(ctx context.Context, tool, version string) (Location, error) {
	asset := d.assetName(tool)

	tags := []string{version, "v" + version}
	if hint, ok := d.Hints[tool]; ok && hint.TagPrefix != "" {
		tags = []string{hint.Tag(version)}
	}

	var lastErr error
	for _, repo := range d.Hints.repoCandidatesFor(tool) {
		for _, tag := range tags {
			url := fmt.Sprintf("%s/%s/releases/download/%s/%s", d.baseURL(), repo, tag, asset)
			ok, err := d.exists(ctx, url)
			if err != nil {
				lastErr = err
				continue
			}
			if !ok {
				continue
			}
			return Location{
				URL:          url,
				SignatureURL: url + ".asc",
				Compression:  compressionFor(asset),
			}, nil
		}
	}

	if lastErr != nil {
		return Location{}, lastErr
	}
	return Location{}, &NotFoundError{Backend: backendDirectURL, Tool: tool, Version: version}
}

func (d *DirectURL) exists(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build existence probe: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client().Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	// Asset download paths redirect to object storage when they exist.
	return resp.StatusCode == http.StatusOK ||
		(resp.StatusCode >= 300 && resp.StatusCode < 400), nil
}
