package repository

import (
	"context"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

const errNoBackingRepo = "no backing repository knows this package"

// MultiRepository composes an ordered list of repositories. By
// convention the local file repository is ordered first so cached
// entries shadow remote ones.
type MultiRepository struct {
	backing []Repository
	log     logging.Logger
}

// NewMultiRepository composes backing in the given order.
func NewMultiRepository(log logging.Logger, backing ...Repository) *MultiRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &MultiRepository{backing: backing, log: log}
}

// ListNames returns the de-duplicated union of every backing
// repository's names.
func (m *MultiRepository) ListNames(ctx context.Context) ([]manifest.PackageID, error) {
	seen := map[manifest.PackageID]struct{}{}
	var out []manifest.PackageID
	for _, repo := range m.backing {
		names, err := repo.ListNames(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out, nil
}

// ListVersions returns the de-duplicated union of versions across every
// backing repository, sorted descending by precedence. false iff every
// backing repository returned false or empty.
func (m *MultiRepository) ListVersions(ctx context.Context, id manifest.PackageID) ([]string, bool, error) {
	seen := map[string]struct{}{}
	var out []string
	any := false
	for _, repo := range m.backing {
		versions, ok, err := repo.ListVersions(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		any = true
		for _, v := range versions {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if !any || len(out) == 0 {
		return nil, false, nil
	}
	sort.Slice(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i])
		vj, errj := semver.NewVersion(out[j])
		if erri != nil || errj != nil {
			return out[i] > out[j]
		}
		return vi.GreaterThan(vj)
	})
	return out, true, nil
}

// GetPackage returns the first backing repository's hit, in order.
func (m *MultiRepository) GetPackage(ctx context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error) {
	for _, repo := range m.backing {
		rec, ok, err := repo.GetPackage(ctx, id, version)
		if err != nil {
			return manifest.PackageRecord{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}
	return manifest.PackageRecord{}, false, nil
}

// DownloadToCache delegates to the first backing repository that knows
// the package; errors if none does.
func (m *MultiRepository) DownloadToCache(ctx context.Context, rec manifest.PackageRecord) (bool, error) {
	for _, repo := range m.backing {
		if _, ok, err := repo.GetPackage(ctx, rec.ID, rec.Version); err != nil {
			return false, err
		} else if ok {
			return repo.DownloadToCache(ctx, rec)
		}
	}
	return false, errors.New(errNoBackingRepo)
}

// AddToIndex reaches every backing repository when permanent is true,
// since the caller intends the insertion to persist; it logs a warning
// for any backend that fails rather than aborting the rest.
func (m *MultiRepository) AddToIndex(ctx context.Context, rec manifest.PackageRecord, permanent bool) error {
	if !permanent {
		if len(m.backing) == 0 {
			return errors.New(errNoBackingRepo)
		}
		return m.backing[0].AddToIndex(ctx, rec, permanent)
	}
	var lastErr error
	for _, repo := range m.backing {
		if err := repo.AddToIndex(ctx, rec, permanent); err != nil {
			m.log.Info("backing repository rejected index write", "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Flush flushes every backing repository, returning the first error
// encountered after attempting all of them.
func (m *MultiRepository) Flush(ctx context.Context) error {
	var firstErr error
	for _, repo := range m.backing {
		if err := repo.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
