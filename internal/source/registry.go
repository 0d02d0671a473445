package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const backendRegistry = "registry"

// Registry resolves tools against Packagist package metadata. It is the
// authoritative version listing for anything published there; artifacts
// themselves are located through the release-asset mapping in the hints
// table, since registry dist archives are not directly runnable.
type Registry struct {
	// BaseURL defaults to the public Packagist instance.
	BaseURL string
	// DownloadBaseURL is where hinted phar assets are fetched from.
	DownloadBaseURL string
	Hints           Hints
	Client          *http.Client
}

func (r *Registry) Name() string { return backendRegistry }

func (r *Registry) baseURL() string {
	if r.BaseURL != "" {
		return strings.TrimSuffix(r.BaseURL, "/")
	}
	return "https://packagist.org"
}

func (r *Registry) downloadBaseURL() string {
	if r.DownloadBaseURL != "" {
		return strings.TrimSuffix(r.DownloadBaseURL, "/")
	}
	return "https://github.com"
}

func (r *Registry) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type packagistDist struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Shasum string `json:"shasum"`
}

type packagistVersion struct {
	Dist packagistDist `json:"dist"`
}

type packagistResponse struct {
	Package struct {
		Versions map[string]packagistVersion `json:"versions"`
	} `json:"package"`
}

func (r *Registry) ListVersions(ctx context.Context, tool string) ([]Candidate, error) {
	pkg := r.Hints.packageFor(tool)
	endpoint := fmt.Sprintf("%s/packages/%s.json", r.baseURL(), pkg)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Backend: backendRegistry, Tool: tool}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("query registry: unexpected status %s", resp.Status)
	}

	var payload packagistResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode registry metadata: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.Package.Versions))
	for raw, info := range payload.Package.Versions {
		v, err := semver.NewVersion(strings.TrimPrefix(raw, "v"))
		if err != nil {
			// dev-master and branch aliases are not selectable versions.
			continue
		}
		candidates = append(candidates, Candidate{
			Version:       v,
			Backend:       backendRegistry,
			IntegrityHint: sha256Hint(info.Dist.Shasum),
		})
	}
	if len(candidates) == 0 {
		return nil, &NotFoundError{Backend: backendRegistry, Tool: tool}
	}
	return candidates, nil
}

// Locate builds the phar download location for hinted tools. Unhinted
// tools fall through to the release-asset and direct-URL backends.
func (r *Registry) Locate(_ context.Context, tool, version string) (Location, error) {
	hint, ok := r.Hints[tool]
	if !ok || hint.Repo == "" || hint.Asset == "" {
		return Location{}, &NotFoundError{Backend: backendRegistry, Tool: tool, Version: version}
	}

	asset := hint.AssetName(version)
	url := fmt.Sprintf("%s/%s/releases/download/%s/%s",
		r.downloadBaseURL(), hint.Repo, hint.Tag(version), asset)

	return Location{
		URL:          url,
		SignatureURL: url + ".asc",
		Compression:  compressionFor(asset),
	}, nil
}

// sha256Hint keeps only digests usable as sha256 hex; Packagist shasums
// are frequently sha1 or empty, which cannot serve as integrity input.
func sha256Hint(shasum string) string {
	if len(shasum) != 64 {
		return ""
	}
	return strings.ToLower(shasum)
}

func compressionFor(asset string) string {
	if strings.HasSuffix(asset, ".gz") {
		return "gzip"
	}
	return ""
}

const userAgent = "phpx/1.0"
