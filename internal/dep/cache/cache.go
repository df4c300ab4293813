// Package cache implements the content-addressed on-disk artifact
// store: $cache/{id}/{version}/src, a scratch tmp/ directory used for
// atomic replacement, and $cache/{id}/{version}/{triplet}/lib/{file}
// for per-triplet binaries.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

const (
	srcDirName = "src"
	tmpDirName = "tmp"
	libDirName = "lib"

	errMkTmp      = "failed to create scratch cache directory"
	errPopulate   = "failed to populate scratch cache directory"
	errValidate   = "failed to validate cached artifact"
	errCommit     = "failed to commit cached artifact"
	errReadIndex  = "failed to read cached shared manifest"
	errParseIndex = "failed to parse cached shared manifest"
	errEvict      = "failed to evict corrupt cache entry"
)

// CorruptError reports that a cache entry exists on disk but its
// qpm.shared.json disagrees with the demanded (id, version).
type CorruptError struct {
	Path    string
	ID      manifest.PackageID
	Version string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("cache entry at %s is corrupt: does not match %s@%s", e.Path, e.ID, e.Version)
}

// Cache is the content-addressed artifact store rooted at a single
// directory, accessed through an afero filesystem so tests can exercise
// it entirely in memory.
type Cache struct {
	fs   afero.Fs
	root string
	log  logging.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New constructs a Cache rooted at root on fs.
func New(fs afero.Fs, root string, opts ...Option) *Cache {
	c := &Cache{fs: fs, root: root, log: logging.NewNopLogger()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func versionDirName(version string) string {
	// Version strings may contain characters that are awkward on some
	// filesystems (build metadata with '+'); the directory name itself
	// is just the version string, matching the on-disk layout's
	// authoritative path convention.
	return version
}

// IDDir returns $cache/{id}.
func (c *Cache) IDDir(id manifest.PackageID) string {
	return filepath.Join(c.root, string(id))
}

// VersionDir returns $cache/{id}/{version}.
func (c *Cache) VersionDir(id manifest.PackageID, version string) string {
	return filepath.Join(c.IDDir(id), versionDirName(version))
}

// SrcDir returns the cached source tree's directory.
func (c *Cache) SrcDir(id manifest.PackageID, version string) string {
	return filepath.Join(c.VersionDir(id, version), srcDirName)
}

// TmpDir returns the scratch directory used while populating an entry.
func (c *Cache) TmpDir(id manifest.PackageID, version string) string {
	return filepath.Join(c.VersionDir(id, version), tmpDirName)
}

// LibDir returns the per-triplet binary directory.
func (c *Cache) LibDir(id manifest.PackageID, version string, triplet manifest.Triplet) string {
	return filepath.Join(c.VersionDir(id, version), string(triplet), libDirName)
}

// BinaryFilename computes the canonical binary filename for a
// dependency, unless overridden by metadata.
func BinaryFilename(id manifest.PackageID, version string, isStatic bool, override *string) string {
	if override != nil && *override != "" {
		return *override
	}
	ext := "so"
	if isStatic {
		ext = "a"
	}
	v := strings.ReplaceAll(version, ".", "_")
	return fmt.Sprintf("lib%s_%s.%s", id, v, ext)
}

// DebugFilename computes the debug-build sibling of a binary filename:
// "debug_" prepended to the release name.
func DebugFilename(releaseFilename string) string {
	return "debug_" + releaseFilename
}

// Fs returns the filesystem the cache is rooted on, so callers
// populating a scratch directory via Commit can write through the same
// backend (e.g. an in-memory filesystem in tests).
func (c *Cache) Fs() afero.Fs { return c.fs }

// Has reports whether a valid, non-corrupt entry for (id, version)
// already exists in the cache.
func (c *Cache) Has(id manifest.PackageID, version string) bool {
	ok, _ := afero.DirExists(c.fs, c.SrcDir(id, version))
	if !ok {
		return false
	}
	return c.Validate(id, version) == nil
}

// Validate re-reads the cached entry's qpm.shared.json and confirms its
// id and version match what was demanded. On mismatch it evicts the
// entry (removing its whole version directory, src/ and any per-triplet
// binaries alike) and returns a *CorruptError.
func (c *Cache) Validate(id manifest.PackageID, version string) error {
	path := filepath.Join(c.SrcDir(id, version), manifest.SharedFileName)
	b, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return errors.Wrap(err, errReadIndex)
	}
	var sm manifest.SharedManifest
	if err := json.Unmarshal(b, &sm); err != nil {
		return errors.Wrap(err, errParseIndex)
	}
	if sm.Manifest.ID != id || sm.Manifest.Version != version {
		c.log.Debug("evicting corrupt cache entry", "id", id, "version", version)
		if rmErr := c.fs.RemoveAll(c.VersionDir(id, version)); rmErr != nil {
			return errors.Wrap(rmErr, errEvict)
		}
		return &CorruptError{Path: path, ID: id, Version: version}
	}
	return nil
}

// Commit populates a fresh scratch directory via populate, validates
// the result, then atomically replaces any pre-existing entry for (id,
// version): remove the old src/ subtree, move the scratch tree into
// place. populate receives the scratch directory's path and is
// responsible for writing src/ (and, for binaries, {triplet}/lib/)
// beneath it.
func (c *Cache) Commit(id manifest.PackageID, version string, populate func(scratchDir string) error) error {
	tmp := c.TmpDir(id, version)
	if err := c.fs.RemoveAll(tmp); err != nil {
		return errors.Wrap(err, errMkTmp)
	}
	if err := c.fs.MkdirAll(tmp, 0o755); err != nil {
		return errors.Wrap(err, errMkTmp)
	}
	if err := populate(tmp); err != nil {
		return errors.Wrap(err, errPopulate)
	}

	b, err := afero.ReadFile(c.fs, filepath.Join(tmp, srcDirName, manifest.SharedFileName))
	if err != nil {
		return errors.Wrap(err, errValidate)
	}
	var sm manifest.SharedManifest
	if err := json.Unmarshal(b, &sm); err != nil {
		return errors.Wrap(err, errValidate)
	}
	if sm.Manifest.ID != id || sm.Manifest.Version != version {
		return &CorruptError{Path: tmp, ID: id, Version: version}
	}

	dst := c.VersionDir(id, version)
	if err := c.fs.RemoveAll(filepath.Join(dst, srcDirName)); err != nil {
		return errors.Wrap(err, errCommit)
	}
	if err := c.fs.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrap(err, errCommit)
	}
	for _, sub := range []string{srcDirName} {
		if err := moveTree(c.fs, filepath.Join(tmp, sub), filepath.Join(dst, sub)); err != nil {
			return errors.Wrap(err, errCommit)
		}
	}
	// Any per-triplet binary directories the caller populated under tmp
	// are moved alongside src/.
	entries, err := afero.ReadDir(c.fs, tmp)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() || e.Name() == srcDirName {
				continue
			}
			if err := moveTree(c.fs, filepath.Join(tmp, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return errors.Wrap(err, errCommit)
			}
		}
	}
	return c.fs.RemoveAll(tmp)
}

func moveTree(fs afero.Fs, src, dst string) error {
	if ok, _ := afero.DirExists(fs, src); !ok {
		return nil
	}
	if err := fs.RemoveAll(dst); err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}
	// Rename can fail across some afero backends (e.g. memory-mapped fs
	// boundaries); fall back to a recursive copy then remove the source.
	if err := copyTree(fs, src, dst); err != nil {
		return err
	}
	return fs.RemoveAll(src)
}

func copyTree(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, info.Mode())
		}
		b, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(fs, target, b, info.Mode())
	})
}

// Clear removes the entire cache contents.
func (c *Cache) Clear() error {
	entries, err := afero.ReadDir(c.fs, c.root)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to list cache root")
	}
	for _, e := range entries {
		if err := c.fs.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return errors.Wrap(err, "failed to clear cache entry")
		}
	}
	return nil
}

// List enumerates every (id, version) pair currently present in the
// cache, for the `qpm cache list` command.
func (c *Cache) List() ([]Entry, error) {
	var out []Entry
	ids, err := afero.ReadDir(c.fs, c.root)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list cache root")
	}
	for _, idEnt := range ids {
		if !idEnt.IsDir() {
			continue
		}
		id := manifest.PackageID(idEnt.Name())
		versions, err := afero.ReadDir(c.fs, c.IDDir(id))
		if err != nil {
			continue
		}
		for _, vEnt := range versions {
			if !vEnt.IsDir() {
				continue
			}
			out = append(out, Entry{ID: id, Version: vEnt.Name()})
		}
	}
	return out, nil
}

// Entry identifies one cached artifact.
type Entry struct {
	ID      manifest.PackageID
	Version string
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
