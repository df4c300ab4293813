package repository

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/dep/cache"
	"github.com/qpm-ndk/qpm/internal/dep/manifest"
	qhttp "github.com/qpm-ndk/qpm/internal/http"
	"github.com/qpm-ndk/qpm/internal/version"
)

const (
	errBuildRequest = "failed to build registry request"
	errDoRequest    = "failed to reach registry"
	errDecodeBody   = "failed to decode registry response"
	archivePath     = "archive"
)

// RemoteRepository is a plain JSON-over-HTTPS client against a fixed
// registry base URL.
type RemoteRepository struct {
	client    qhttp.Client
	baseURL   string
	authToken string
	cache     *cache.Cache
	log       logging.Logger
}

// RemoteOption configures a RemoteRepository.
type RemoteOption func(*RemoteRepository)

// WithAuthToken sets the bearer token sent on publish requests.
func WithAuthToken(token string) RemoteOption {
	return func(r *RemoteRepository) { r.authToken = token }
}

// WithRemoteLogger overrides the default no-op logger.
func WithRemoteLogger(l logging.Logger) RemoteOption {
	return func(r *RemoteRepository) { r.log = l }
}

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(c qhttp.Client) RemoteOption {
	return func(r *RemoteRepository) { r.client = c }
}

// NewRemoteRepository constructs a RemoteRepository against baseURL,
// caching downloaded artifacts via c.
func NewRemoteRepository(baseURL string, c *cache.Cache, opts ...RemoteOption) *RemoteRepository {
	r := &RemoteRepository{
		client:  &http.Client{},
		baseURL: baseURL,
		cache:   c,
		log:     logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RemoteRepository) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return r.doURL(ctx, method, r.baseURL+path, body)
}

func (r *RemoteRepository) doURL(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, errBuildRequest)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + u, Err: err}
	}
	return resp, nil
}

// ListNames implements Repository: GET {base}/.
func (r *RemoteRepository) ListNames(ctx context.Context) ([]manifest.PackageID, error) {
	resp, err := r.do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable here

	var ids []manifest.PackageID
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, &CorruptError{Op: "list names", Err: err}
	}
	return ids, nil
}

// ListVersions implements Repository: GET {base}/{id}?limit=0.
func (r *RemoteRepository) ListVersions(ctx context.Context, id manifest.PackageID) ([]string, bool, error) {
	path := fmt.Sprintf("/%s?limit=0", url.PathEscape(string(id)))
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable here

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	var versions []string
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, false, &CorruptError{Op: "list versions", Err: err}
	}
	return versions, len(versions) > 0, nil
}

// GetPackage implements Repository: GET {base}/{id}/{version}.
func (r *RemoteRepository) GetPackage(ctx context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error) {
	path := fmt.Sprintf("/%s/%s", url.PathEscape(string(id)), url.PathEscape(version))
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return manifest.PackageRecord{}, false, err
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable here

	if resp.StatusCode == http.StatusNotFound {
		return manifest.PackageRecord{}, false, nil
	}
	var rec manifest.PackageRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return manifest.PackageRecord{}, false, &CorruptError{Op: "get package", Err: err}
	}
	if err := rec.ParseDependencies(); err != nil {
		return manifest.PackageRecord{}, false, &CorruptError{Op: "get package", Err: err}
	}
	return rec, true, nil
}

// DownloadToCache implements Repository: fetches the artifact's tar.gz
// bundle from the record's own artifact URL when it carries one, else
// from {base}/{id}/{version}/archive, and extracts it directly into the
// cache's scratch directory, relying on cache.Cache.Commit for atomic
// replacement and identity validation.
func (r *RemoteRepository) DownloadToCache(ctx context.Context, rec manifest.PackageRecord) (bool, error) {
	if r.cache.Has(rec.ID, rec.Version) {
		return false, nil
	}
	u := rec.ArtifactURL
	if u == "" {
		u = r.baseURL + fmt.Sprintf("/%s/%s/%s", url.PathEscape(string(rec.ID)), url.PathEscape(rec.Version), archivePath)
	}
	resp, err := r.doURL(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable here

	if resp.StatusCode == http.StatusNotFound {
		return false, errors.Errorf("no archive available for %s@%s", rec.ID, rec.Version)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &NetworkError{Op: "read archive body", Err: err}
	}

	err = r.cache.Commit(rec.ID, rec.Version, func(scratch string) error {
		return extractTarGz(r.cache.Fs(), scratch, body)
	})
	return true, err
}

// AddToIndex implements Repository: publishes via POST {base}/.
func (r *RemoteRepository) AddToIndex(ctx context.Context, rec manifest.PackageRecord, _ bool) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode package record")
	}
	resp, err := r.do(ctx, http.MethodPost, "/", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable here

	if resp.StatusCode == http.StatusUnauthorized {
		return &UnauthorizedError{Op: "publish " + string(rec.ID)}
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("publish failed with status %d", resp.StatusCode)
	}
	return nil
}

// Flush is a no-op for the remote repository: every write is already
// durable once the server accepts it.
func (r *RemoteRepository) Flush(_ context.Context) error { return nil }

func extractTarGz(fs afero.Fs, dst string, data []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, errDecodeBody)
	}
	defer gz.Close() //nolint:errcheck // decompressor close error is not actionable here

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errDecodeBody)
		}
		target := filepath.Join(dst, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			b, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			if err := afero.WriteFile(fs, target, b, 0o644); err != nil {
				return err
			}
		}
	}
}
