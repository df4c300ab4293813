// Package restore materializes a resolved dependency assignment into a
// workspace: cached source trees are projected under
// dependencies-dir/includes/{id}, and per-triplet binaries under
// dependencies-dir/libs/, preferring symlinks with a copy fallback.
package restore

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/dep/cache"
	"github.com/qpm-ndk/qpm/internal/dep/manifest"
	"github.com/qpm-ndk/qpm/internal/dep/repository"
	"github.com/qpm-ndk/qpm/internal/dep/resolver"
	qfs "github.com/qpm-ndk/qpm/internal/filesystem"
)

const (
	includesDirName = "includes"
	libsDirName     = "libs"
)

// Restorer materializes a resolved dependency assignment into a
// workspace's dependencies directory.
type Restorer struct {
	fs         afero.Fs
	cache      *cache.Cache
	repo       repository.Repository
	log        logging.Logger
	useSymlink bool
}

// Option configures a Restorer.
type Option func(*Restorer)

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Restorer) { r.log = l }
}

// WithCopyOnly disables symlinking, always materializing a full copy.
// Mirrors "symlink": false in the user settings file (qpm.settings.json).
func WithCopyOnly() Option {
	return func(r *Restorer) { r.useSymlink = false }
}

// New constructs a Restorer.
func New(fs afero.Fs, c *cache.Cache, repo repository.Repository, opts ...Option) *Restorer {
	r := &Restorer{fs: fs, cache: c, repo: repo, log: logging.NewNopLogger(), useSymlink: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Result reports what Restore materialized, for CLI reporting.
type Result struct {
	Assignment resolver.Assignment
	Order      []manifest.PackageID
}

// Restore resolves m's dependencies (or replays sm's lock for triplet
// when locked is true), ensures every resolved package is present in
// the cache, and projects its source tree and triplet binary into
// workspaceDir's dependencies directory. It returns the updated shared
// manifest; when locked is true sm is returned untouched, since a
// locked restore never rewrites the lock file.
func (r *Restorer) Restore(ctx context.Context, workspaceDir string, m manifest.Manifest, sm manifest.SharedManifest, triplet manifest.Triplet, locked bool) (manifest.SharedManifest, Result, error) {
	var assignment resolver.Assignment
	var err error
	if locked {
		assignment, err = resolver.LockedResolve(ctx, r.repo, sm, triplet)
	} else {
		assignment, err = resolver.Resolve(ctx, r.repo, m, r.log)
	}
	if err != nil {
		return sm, Result{}, err
	}

	order := resolver.Order(assignment)

	depsDir := filepath.Join(workspaceDir, m.DependenciesDir)
	includesDir := filepath.Join(depsDir, includesDirName)
	libsDir := filepath.Join(depsDir, libsDirName)
	if err := r.fs.MkdirAll(includesDir, 0o755); err != nil {
		return sm, Result{}, errors.Wrap(err, "failed to create includes directory")
	}
	if err := r.fs.MkdirAll(libsDir, 0o755); err != nil {
		return sm, Result{}, errors.Wrap(err, "failed to create libs directory")
	}

	restored := make(map[manifest.PackageID]manifest.RestoredDependency, len(order))
	for _, id := range order {
		entry := assignment[id]
		if err := r.ensureCached(ctx, entry.Record); err != nil {
			return sm, Result{}, err
		}
		if err := r.projectInclude(id, entry.Record, includesDir); err != nil {
			return sm, Result{}, err
		}
		if err := r.projectLib(id, entry.Version.String(), triplet, libsDir); err != nil {
			return sm, Result{}, err
		}
		// The resolver's assignment doesn't track which declaring edge's
		// metadata "won" for a transitively-shared dependency, so the
		// lock records only the resolved version here.
		restored[id] = manifest.RestoredDependency{Version: entry.Version.String()}
	}

	// Workspaces expect their own skeleton directories to exist after a
	// restore: a source dir, an include dir, and the manifest's shared
	// dir.
	for _, aux := range []string{"src", "include", m.SharedDir} {
		if aux == "" {
			continue
		}
		if err := r.fs.MkdirAll(filepath.Join(workspaceDir, aux), 0o755); err != nil {
			return sm, Result{}, errors.Wrapf(err, "failed to create workspace directory %s", aux)
		}
	}

	result := Result{Assignment: assignment, Order: order}
	if locked {
		return sm, result, nil
	}

	out := sm
	out.Manifest = m
	if out.RestoredDependencies == nil {
		out.RestoredDependencies = map[manifest.Triplet]map[manifest.PackageID]manifest.RestoredDependency{}
	}
	out.RestoredDependencies[triplet] = restored
	return out, result, nil
}

// ensureCached makes sure rec's source tree is present and valid in the
// cache, downloading it from the repository if absent. A network failure
// is retried once per dependency before surfacing.
func (r *Restorer) ensureCached(ctx context.Context, rec manifest.PackageRecord) error {
	v, err := rec.ParsedVersion()
	if err != nil {
		return errors.Wrapf(err, "package %s has an invalid version", rec.ID)
	}
	if r.cache.Has(rec.ID, v.String()) {
		return nil
	}
	_, err = r.repo.DownloadToCache(ctx, rec)
	var netErr *repository.NetworkError
	if errors.As(err, &netErr) {
		r.log.Debug("retrying download after network failure", "id", rec.ID, "version", rec.Version, "error", err)
		_, err = r.repo.DownloadToCache(ctx, rec)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to download %s@%s", rec.ID, rec.Version)
	}
	if err := r.cache.Validate(rec.ID, v.String()); err != nil {
		return errors.Wrapf(err, "downloaded artifact for %s@%s failed validation", rec.ID, rec.Version)
	}
	return nil
}

// projectInclude links rec's cached shared-header tree (src/{shared-dir},
// or the whole src/ when the record declares no shared dir) under
// includesDir/{id}.
func (r *Restorer) projectInclude(id manifest.PackageID, rec manifest.PackageRecord, includesDir string) error {
	src := r.cache.SrcDir(id, rec.Version)
	if rec.SharedDir != "" {
		src = filepath.Join(src, rec.SharedDir)
	}
	dst := filepath.Join(includesDir, string(id))
	return r.link(src, dst)
}

// projectLib links every file under rec's cached per-triplet lib
// directory into libsDir. Packages with no binary published for the
// requested triplet (header-only dependencies) are left untouched.
func (r *Restorer) projectLib(id manifest.PackageID, version string, triplet manifest.Triplet, libsDir string) error {
	libDir := r.cache.LibDir(id, version, triplet)
	exists, err := afero.DirExists(r.fs, libDir)
	if err != nil {
		return errors.Wrapf(err, "failed to inspect %s's binary directory", id)
	}
	if !exists {
		return nil
	}
	entries, err := afero.ReadDir(r.fs, libDir)
	if err != nil {
		return errors.Wrapf(err, "failed to list %s's binary directory", id)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dst := filepath.Join(libsDir, e.Name())
		if err := r.link(filepath.Join(libDir, e.Name()), dst); err != nil {
			return err
		}
	}
	return nil
}

// link projects src onto dst: a symlink when enabled and the restorer's
// filesystem is an *afero.BasePathFs, the only kind CreateSymlink
// handles; on any other filesystem (afero.OsFs included), or on any
// symlink failure, a recursive copy. Any pre-existing entry at dst is
// cleared first so re-restoring is idempotent.
func (r *Restorer) link(src, dst string) error {
	if err := r.fs.RemoveAll(dst); err != nil {
		return errors.Wrapf(err, "failed to clear previous restore target %s", dst)
	}

	if r.useSymlink {
		if targetFS, ok := r.fs.(*afero.BasePathFs); ok {
			if err := qfs.CreateSymlink(targetFS, dst, targetFS, src); err == nil {
				return nil
			}
			r.log.Debug("falling back to a copy after symlink failure", "src", src, "dst", dst)
		}
	}

	info, err := r.fs.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "failed to stat restore source %s", src)
	}
	if info.IsDir() {
		return qfs.CopyFolder(r.fs, src, dst)
	}
	if err := r.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return qfs.CopyFileIfExists(r.fs, src, dst)
}
