package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

const backendReleaseAssets = "release-assets"

// ReleaseAssets resolves tools against GitHub release listings, picking
// the phar asset from each release. Listings fetched during version
// enumeration are kept for the invocation so Locate does not re-query.
type ReleaseAssets struct {
	// APIBaseURL defaults to the public GitHub API.
	APIBaseURL string
	Hints      Hints
	Client     *http.Client

	mu     sync.Mutex
	listed map[string]repoReleases
}

type repoReleases struct {
	repo     string
	releases []githubRelease
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Draft   bool          `json:"draft"`
	Assets  []githubAsset `json:"assets"`
}

func (g *ReleaseAssets) Name() string { return backendReleaseAssets }

func (g *ReleaseAssets) apiBaseURL() string {
	if g.APIBaseURL != "" {
		return strings.TrimSuffix(g.APIBaseURL, "/")
	}
	return "https://api.github.com"
}

func (g *ReleaseAssets) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (g *ReleaseAssets) ListVersions(ctx context.Context, tool string) ([]Candidate, error) {
	releases, err := g.releasesFor(ctx, tool)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, rel := range releases.releases {
		if rel.Draft {
			continue
		}
		v, err := semver.NewVersion(strings.TrimPrefix(rel.TagName, "v"))
		if err != nil {
			continue
		}
		if _, ok := g.pharAsset(tool, rel, v.String()); !ok {
			continue
		}
		candidates = append(candidates, Candidate{Version: v, Backend: backendReleaseAssets})
	}
	if len(candidates) == 0 {
		return nil, &NotFoundError{Backend: backendReleaseAssets, Tool: tool}
	}
	return candidates, nil
}

func (g *ReleaseAssets) Locate(ctx context.Context, tool, version string) (Location, error) {
	releases, err := g.releasesFor(ctx, tool)
	if err != nil {
		return Location{}, err
	}

	for _, rel := range releases.releases {
		if strings.TrimPrefix(rel.TagName, "v") != version {
			continue
		}
		asset, ok := g.pharAsset(tool, rel, version)
		if !ok {
			break
		}
		return Location{
			URL:          asset.BrowserDownloadURL,
			SignatureURL: signatureURL(rel.Assets, asset.Name),
			Compression:  compressionFor(asset.Name),
		}, nil
	}
	return Location{}, &NotFoundError{Backend: backendReleaseAssets, Tool: tool, Version: version}
}

// releasesFor fetches release listings for the tool's candidate
// repositories in order, remembering the first repository that answers.
func (g *ReleaseAssets) releasesFor(ctx context.Context, tool string) (repoReleases, error) {
	g.mu.Lock()
	cached, ok := g.listed[tool]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	var lastErr error
	for _, repo := range g.Hints.repoCandidatesFor(tool) {
		endpoint := fmt.Sprintf("%s/repos/%s/releases?per_page=100", g.apiBaseURL(), repo)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return repoReleases{}, fmt.Errorf("build release request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := g.client().Do(req)
		if err != nil {
			lastErr = fmt.Errorf("query releases for %s: %w", repo, err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			lastErr = fmt.Errorf("query releases for %s: unexpected status %s", repo, resp.Status)
			continue
		}

		var releases []githubRelease
		if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("decode releases for %s: %w", repo, err)
			continue
		}
		resp.Body.Close()

		found := repoReleases{repo: repo, releases: releases}
		g.mu.Lock()
		if g.listed == nil {
			g.listed = map[string]repoReleases{}
		}
		g.listed[tool] = found
		g.mu.Unlock()
		return found, nil
	}

	if lastErr != nil {
		return repoReleases{}, lastErr
	}
	return repoReleases{}, &NotFoundError{Backend: backendReleaseAssets, Tool: tool}
}

// pharAsset picks the runnable asset from a release: the hinted asset name
// when configured, otherwise the first .phar (or .phar.gz) asset.
func (g *ReleaseAssets) pharAsset(tool string, rel githubRelease, version string) (githubAsset, bool) {
	if hint, ok := g.Hints[tool]; ok && hint.Asset != "" {
		want := hint.AssetName(version)
		for _, asset := range rel.Assets {
			if asset.Name == want {
				return asset, true
			}
		}
	}
	for _, asset := range rel.Assets {
		if strings.HasSuffix(asset.Name, ".phar") || strings.HasSuffix(asset.Name, ".phar.gz") {
			return asset, true
		}
	}
	return githubAsset{}, false
}

func signatureURL(assets []githubAsset, pharName string) string {
	for _, suffix := range []string{".asc", ".sig"} {
		for _, asset := range assets {
			if asset.Name == pharName+suffix {
				return asset.BrowserDownloadURL
			}
		}
	}
	return ""
}
