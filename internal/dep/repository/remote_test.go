package repository

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/qpm-ndk/qpm/internal/dep/cache"
	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

// clientFn adapts a function to the internal http Client seam.
type clientFn func(*http.Request) (*http.Response, error)

func (f clientFn) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestRemoteListNames(t *testing.T) {
	r := NewRemoteRepository("https://registry.test", nil, WithHTTPClient(clientFn(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/" || req.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", req.Method, req.URL)
		}
		if ua := req.Header.Get("User-Agent"); !strings.HasPrefix(ua, "qpm/") {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		return jsonResponse(http.StatusOK, `["a","b"]`), nil
	})))

	names, err := r.ListNames(context.Background())
	if err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ListNames = %v", names)
	}
}

func TestRemoteListVersionsNotFound(t *testing.T) {
	r := NewRemoteRepository("https://registry.test", nil, WithHTTPClient(clientFn(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"error":"no such package"}`), nil
	})))

	_, ok, err := r.ListVersions(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if ok {
		t.Error("expected a 404 to be reported as not-found, not as an error")
	}
}

func TestRemoteGetPackage(t *testing.T) {
	rec := manifest.PackageRecord{ID: "a", Version: "1.0.0", SharedDir: "shared"}
	body, _ := json.Marshal(rec)
	r := NewRemoteRepository("https://registry.test", nil, WithHTTPClient(clientFn(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/a/1.0.0" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, string(body)), nil
	})))

	got, ok, err := r.GetPackage(context.Background(), "a", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("GetPackage = %v, %v, %v", got, ok, err)
	}
	if got.SharedDir != "shared" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestRemoteGetPackageCorruptBody(t *testing.T) {
	r := NewRemoteRepository("https://registry.test", nil, WithHTTPClient(clientFn(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{not json`), nil
	})))

	_, _, err := r.GetPackage(context.Background(), "a", "1.0.0")
	if _, ok := err.(*CorruptError); !ok {
		t.Fatalf("expected *CorruptError, got %T: %v", err, err)
	}
}

func TestRemotePublishUnauthorized(t *testing.T) {
	r := NewRemoteRepository("https://registry.test", nil,
		WithAuthToken("bad-token"),
		WithHTTPClient(clientFn(func(req *http.Request) (*http.Response, error) {
			if req.Method != http.MethodPost || req.URL.Path != "/" {
				t.Errorf("unexpected request %s %s", req.Method, req.URL)
			}
			if auth := req.Header.Get("Authorization"); auth != "Bearer bad-token" {
				t.Errorf("unexpected Authorization header %q", auth)
			}
			return jsonResponse(http.StatusUnauthorized, `{}`), nil
		})))

	err := r.AddToIndex(context.Background(), manifest.PackageRecord{ID: "a", Version: "1.0.0"}, true)
	if _, ok := err.(*UnauthorizedError); !ok {
		t.Fatalf("expected *UnauthorizedError, got %T: %v", err, err)
	}
}

func archiveFor(t *testing.T, id manifest.PackageID, version string) []byte {
	t.Helper()
	sm := manifest.SharedManifest{Manifest: manifest.Manifest{ID: id, Version: version}}
	b, err := json.Marshal(sm)
	if err != nil {
		t.Fatalf("marshal shared manifest: %v", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range map[string][]byte{
		"src/" + manifest.SharedFileName: b,
		"src/header.h":                   []byte("// header"),
	} {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestRemoteDownloadToCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := cache.New(fs, "/cache")
	archive := archiveFor(t, "a", "1.0.0")

	calls := 0
	r := NewRemoteRepository("https://registry.test", c, WithHTTPClient(clientFn(func(req *http.Request) (*http.Response, error) {
		calls++
		if req.URL.Path != "/a/1.0.0/archive" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(archive))}, nil
	})))

	rec := manifest.PackageRecord{ID: "a", Version: "1.0.0"}
	changed, err := r.DownloadToCache(context.Background(), rec)
	if err != nil {
		t.Fatalf("DownloadToCache: %v", err)
	}
	if !changed {
		t.Error("expected the first download to report network activity")
	}
	if !c.Has("a", "1.0.0") {
		t.Error("expected the artifact to be committed to the cache")
	}
	if ok, _ := afero.Exists(fs, c.SrcDir("a", "1.0.0")+"/header.h"); !ok {
		t.Error("expected the extracted header to be present under src/")
	}

	// A second download must be a no-op served from the cache.
	changed, err = r.DownloadToCache(context.Background(), rec)
	if err != nil {
		t.Fatalf("second DownloadToCache: %v", err)
	}
	if changed {
		t.Error("expected the second download to be served from the cache")
	}
	if calls != 1 {
		t.Errorf("expected exactly one network request, got %d", calls)
	}
}

func TestRemoteDownloadToCacheHonorsArtifactURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := cache.New(fs, "/cache")
	archive := archiveFor(t, "a", "1.0.0")

	r := NewRemoteRepository("https://registry.test", c, WithHTTPClient(clientFn(func(req *http.Request) (*http.Response, error) {
		if got := req.URL.String(); got != "https://cdn.test/bundles/a-1.0.0.tar.gz" {
			t.Errorf("expected the record's artifact URL to be fetched, got %s", got)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(archive))}, nil
	})))

	rec := manifest.PackageRecord{ID: "a", Version: "1.0.0", ArtifactURL: "https://cdn.test/bundles/a-1.0.0.tar.gz"}
	if _, err := r.DownloadToCache(context.Background(), rec); err != nil {
		t.Fatalf("DownloadToCache: %v", err)
	}
	if !c.Has("a", "1.0.0") {
		t.Error("expected the artifact to be committed to the cache")
	}
}
