package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"phpx/internal/source"
)

func newTestFetcher(client *http.Client, mirrors []string) *Fetcher {
	f := New(client, mirrors, zerolog.Nop())
	f.delay = time.Millisecond
	return f
}

func stagingFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "artifact.partial")
}

func TestFetchWritesStagingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("phar payload"))
	}))
	defer srv.Close()

	dst := stagingFile(t)
	f := newTestFetcher(srv.Client(), nil)
	if err := f.Fetch(context.Background(), source.Location{URL: srv.URL + "/tool.phar"}, dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read staging file: %v", err)
	}
	if string(got) != "phar payload" {
		t.Fatalf("payload %q", got)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	dst := stagingFile(t)
	f := newTestFetcher(srv.Client(), nil)
	if err := f.Fetch(context.Background(), source.Location{URL: srv.URL}, dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client(), nil)
	err := f.Fetch(context.Background(), source.Location{URL: srv.URL}, stagingFile(t))
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if te.Status != http.StatusNotFound || te.Transient {
		t.Fatalf("unexpected error %+v", te)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", calls.Load())
	}
}

func TestFetchFallsBackToMirror(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repo/tool.phar" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("from mirror"))
	}))
	defer mirror.Close()

	dst := stagingFile(t)
	f := newTestFetcher(http.DefaultClient, []string{mirror.URL})
	loc := source.Location{URL: primary.URL + "/repo/tool.phar"}
	if err := f.Fetch(context.Background(), loc, dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "from mirror" {
		t.Fatalf("payload %q", got)
	}
}

func TestFetchDecompressesGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("inflated phar"))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	dst := stagingFile(t)
	f := newTestFetcher(srv.Client(), nil)
	loc := source.Location{URL: srv.URL + "/tool.phar.gz", Compression: "gzip"}
	if err := f.Fetch(context.Background(), loc, dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "inflated phar" {
		t.Fatalf("payload %q", got)
	}
}

func TestFetchRemovesPartialOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.Write([]byte("short"))
	}))
	srv.Close() // refuse all connections

	dst := stagingFile(t)
	f := newTestFetcher(http.DefaultClient, nil)
	if err := f.Fetch(context.Background(), source.Location{URL: srv.URL}, dst); err == nil {
		t.Fatal("expected error from closed server")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("partial file must be removed, stat err %v", err)
	}
}

func TestFetchHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(srv.Client(), nil)
	if err := f.Fetch(ctx, source.Location{URL: srv.URL}, stagingFile(t)); err == nil {
		t.Fatal("expected error after cancellation")
	}
}
