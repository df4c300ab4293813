package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/dep/cache"
	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

const (
	errReadIndex  = "failed to read local repository index"
	errParseIndex = "failed to parse local repository index"
	errWriteIndex = "failed to write local repository index"

	errNotCached  = "package record is indexed locally but its artifact is not present in the cache"
	errNoManifest = "a published src/ tree carrying qpm.shared.json must also carry qpm.json"
)

// fileIndex is the on-disk shape of $config/qpm.repository.json.
type fileIndex struct {
	Artifacts map[manifest.PackageID]map[string]manifest.PackageRecord `json:"artifacts"`
}

// FileRepository is the local, on-disk repository: a single JSON index
// file plus the shared content-addressed cache. Local builds are
// published directly into the cache via PublishLocal.
type FileRepository struct {
	fs        afero.Fs
	indexPath string
	cache     *cache.Cache
	log       logging.Logger

	artifacts map[manifest.PackageID]map[string]manifest.PackageRecord
	dirty     bool
}

// FileOption configures a FileRepository.
type FileOption func(*FileRepository)

// WithFileLogger overrides the default no-op logger.
func WithFileLogger(l logging.Logger) FileOption {
	return func(r *FileRepository) { r.log = l }
}

// NewFileRepository loads (or initializes empty) the index at
// indexPath and returns a FileRepository backed by c.
func NewFileRepository(fs afero.Fs, indexPath string, c *cache.Cache, opts ...FileOption) (*FileRepository, error) {
	r := &FileRepository{
		fs:        fs,
		indexPath: indexPath,
		cache:     c,
		log:       logging.NewNopLogger(),
		artifacts: map[manifest.PackageID]map[string]manifest.PackageRecord{},
	}
	for _, o := range opts {
		o(r)
	}

	exists, err := afero.Exists(fs, indexPath)
	if err != nil {
		return nil, errors.Wrap(err, errReadIndex)
	}
	if !exists {
		return r, nil
	}
	b, err := afero.ReadFile(fs, indexPath)
	if err != nil {
		return nil, errors.Wrap(err, errReadIndex)
	}
	var idx fileIndex
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, errors.Wrap(err, errParseIndex)
	}
	if idx.Artifacts != nil {
		r.artifacts = idx.Artifacts
	}
	// Records reloaded from disk carry only their range text.
	for _, versions := range r.artifacts {
		for v, rec := range versions {
			if err := rec.ParseDependencies(); err != nil {
				return nil, errors.Wrap(err, errParseIndex)
			}
			versions[v] = rec
		}
	}
	return r, nil
}

// ListNames implements Repository.
func (r *FileRepository) ListNames(_ context.Context) ([]manifest.PackageID, error) {
	out := make([]manifest.PackageID, 0, len(r.artifacts))
	for id := range r.artifacts {
		out = append(out, id)
	}
	return out, nil
}

// ListVersions implements Repository.
func (r *FileRepository) ListVersions(_ context.Context, id manifest.PackageID) ([]string, bool, error) {
	versions, ok := r.artifacts[id]
	if !ok || len(versions) == 0 {
		return nil, false, nil
	}
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, true, nil
}

// GetPackage implements Repository.
func (r *FileRepository) GetPackage(_ context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error) {
	versions, ok := r.artifacts[id]
	if !ok {
		return manifest.PackageRecord{}, false, nil
	}
	rec, ok := versions[version]
	return rec, ok, nil
}

// DownloadToCache implements Repository. Locally indexed artifacts are
// written directly into the cache by PublishLocal, so this never
// performs network activity; it only validates presence.
func (r *FileRepository) DownloadToCache(_ context.Context, rec manifest.PackageRecord) (bool, error) {
	if r.cache.Has(rec.ID, rec.Version) {
		return false, nil
	}
	return false, errors.New(errNotCached)
}

// AddToIndex implements Repository: inserts without overwriting unless
// AddToIndexOverwrite is used.
func (r *FileRepository) AddToIndex(ctx context.Context, rec manifest.PackageRecord, permanent bool) error {
	return r.addToIndex(ctx, rec, permanent, false)
}

// AddToIndexOverwrite inserts rec, replacing any existing entry for the
// same (id, version).
func (r *FileRepository) AddToIndexOverwrite(ctx context.Context, rec manifest.PackageRecord, permanent bool) error {
	return r.addToIndex(ctx, rec, permanent, true)
}

func (r *FileRepository) addToIndex(_ context.Context, rec manifest.PackageRecord, permanent, overwrite bool) error {
	if r.artifacts[rec.ID] == nil {
		r.artifacts[rec.ID] = map[string]manifest.PackageRecord{}
	}
	if _, exists := r.artifacts[rec.ID][rec.Version]; exists && !overwrite {
		return nil
	}
	r.artifacts[rec.ID][rec.Version] = rec
	if permanent {
		r.dirty = true
	}
	return nil
}

// PublishLocal commits a locally built artifact into the cache (via
// populate, matching cache.Cache.Commit's contract) then permanently
// indexes its record.
func (r *FileRepository) PublishLocal(rec manifest.PackageRecord, populate func(scratchDir string) error) error {
	err := r.cache.Commit(rec.ID, rec.Version, func(scratch string) error {
		if err := populate(scratch); err != nil {
			return err
		}
		// src/qpm.shared.json present implies src/qpm.json present.
		srcDir := filepath.Join(scratch, "src")
		if ok, _ := afero.Exists(r.fs, filepath.Join(srcDir, manifest.SharedFileName)); ok {
			if ok, _ := afero.Exists(r.fs, filepath.Join(srcDir, manifest.FileName)); !ok {
				return errors.New(errNoManifest)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.AddToIndexOverwrite(context.Background(), rec, true)
}

// Flush writes the index atomically if it has pending changes.
func (r *FileRepository) Flush(_ context.Context) error {
	if !r.dirty {
		return nil
	}
	b, err := json.MarshalIndent(fileIndex{Artifacts: r.artifacts}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errWriteIndex)
	}
	tmp := r.indexPath + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, b, 0o644); err != nil {
		return errors.Wrap(err, errWriteIndex)
	}
	if err := r.fs.Rename(tmp, r.indexPath); err != nil {
		return errors.Wrap(err, errWriteIndex)
	}
	r.dirty = false
	return nil
}
