// Package download moves release artifacts into cache staging space.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"phpx/internal/source"
)

const (
	maxAttempts  = 3
	initialDelay = 500 * time.Millisecond
	userAgent    = "phpx/1.0"
)

// TransferError reports a failed artifact transfer. Transient failures
// (timeouts, server errors) have Transient set and were already retried.
type TransferError struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Fetcher streams artifacts to staging files, retrying transient
// failures and falling back to configured mirror bases.
type Fetcher struct {
	Client  *http.Client
	Mirrors []string
	Logger  zerolog.Logger

	// delay is the base backoff, shortened in tests.
	delay time.Duration
}

func New(client *http.Client, mirrors []string, logger zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Fetcher{Client: client, Mirrors: mirrors, Logger: logger, delay: initialDelay}
}

// Fetch writes the artifact at loc to stagingPath. The primary URL is
// tried first, then each mirror with the primary's path grafted onto
// the mirror's scheme and host. Partial files are removed on failure.
func (f *Fetcher) Fetch(ctx context.Context, loc source.Location, stagingPath string) error {
	urls := f.candidateURLs(loc.URL)
	var lastErr error
	for i, u := range urls {
		if i > 0 {
			f.Logger.Debug().Str("url", u).Msg("trying mirror")
		}
		err := f.fetchWithRetry(ctx, u, loc.Compression, stagingPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		var te *TransferError
		if errors.As(err, &te) && !te.Transient {
			// A permanent failure on the primary can still be a
			// mirror-specific gap the next base fills.
			continue
		}
	}
	return lastErr
}

func (f *Fetcher) candidateURLs(primary string) []string {
	urls := []string{primary}
	parsed, err := url.Parse(primary)
	if err != nil {
		return urls
	}
	for _, m := range f.Mirrors {
		base, err := url.Parse(m)
		if err != nil || base.Host == "" {
			continue
		}
		mirrored := *parsed
		mirrored.Scheme = base.Scheme
		mirrored.Host = base.Host
		urls = append(urls, mirrored.String())
	}
	return urls
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, rawURL, compression, stagingPath string) error {
	delay := f.delay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := f.fetchOnce(ctx, rawURL, compression, stagingPath)
		if err == nil {
			return nil
		}
		lastErr = err
		var te *TransferError
		if errors.As(err, &te) && !te.Transient {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < maxAttempts {
			f.Logger.Debug().
				Str("url", rawURL).
				Int("attempt", attempt).
				Err(err).
				Msg("retrying download")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastErr
			}
			delay *= 2
		}
	}
	return lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, compression, stagingPath string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &TransferError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return &TransferError{URL: rawURL, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return &TransferError{URL: rawURL, Status: resp.StatusCode, Transient: true}
	default:
		return &TransferError{URL: rawURL, Status: resp.StatusCode}
	}

	out, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(stagingPath)
		}
	}()

	var body io.Reader = resp.Body
	if compression == "gzip" || strings.HasSuffix(rawURL, ".gz") {
		gz, gerr := gzip.NewReader(resp.Body)
		if gerr != nil {
			err = &TransferError{URL: rawURL, Err: fmt.Errorf("gzip: %w", gerr)}
			return err
		}
		defer gz.Close()
		body = gz
	}

	if _, err = io.Copy(out, body); err != nil {
		err = &TransferError{URL: rawURL, Transient: true, Err: err}
		return err
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	return nil
}
