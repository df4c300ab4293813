package repository

import (
	"context"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

// MemoizingRepository wraps a Repository with three read-through
// caches (names, versions-per-id, records-per-id-version). It holds no
// lock: a read that misses stores its result in these maps, so
// concurrent calls, reads included, are not safe. Cached values are
// copied out so a reader never observes a mutation to a value it has
// already retrieved.
type MemoizingRepository struct {
	backing Repository

	names      []manifest.PackageID
	namesValid bool

	versions map[manifest.PackageID][]string

	records map[manifest.PackageID]map[string]manifest.PackageRecord
}

// NewMemoizingRepository wraps backing.
func NewMemoizingRepository(backing Repository) *MemoizingRepository {
	return &MemoizingRepository{
		backing:  backing,
		versions: map[manifest.PackageID][]string{},
		records:  map[manifest.PackageID]map[string]manifest.PackageRecord{},
	}
}

// ListNames serves from cache on hit, else forwards and caches.
func (m *MemoizingRepository) ListNames(ctx context.Context) ([]manifest.PackageID, error) {
	if m.namesValid {
		return copyIDs(m.names), nil
	}
	names, err := m.backing.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	m.names = names
	m.namesValid = true
	return copyIDs(names), nil
}

// ListVersions serves from cache on hit, else forwards and caches.
func (m *MemoizingRepository) ListVersions(ctx context.Context, id manifest.PackageID) ([]string, bool, error) {
	if v, ok := m.versions[id]; ok {
		return copyStrings(v), true, nil
	}
	versions, ok, err := m.backing.ListVersions(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	m.versions[id] = versions
	return copyStrings(versions), true, nil
}

// GetPackage serves from cache on hit, else forwards and caches.
func (m *MemoizingRepository) GetPackage(ctx context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error) {
	if byVersion, ok := m.records[id]; ok {
		if rec, ok := byVersion[version]; ok {
			return rec, true, nil
		}
	}
	rec, ok, err := m.backing.GetPackage(ctx, id, version)
	if err != nil {
		return manifest.PackageRecord{}, false, err
	}
	if !ok {
		return manifest.PackageRecord{}, false, nil
	}
	if m.records[id] == nil {
		m.records[id] = map[string]manifest.PackageRecord{}
	}
	m.records[id][version] = rec
	return rec, true, nil
}

// DownloadToCache forwards unconditionally; download activity is not
// memoized since the underlying cache already makes it idempotent.
func (m *MemoizingRepository) DownloadToCache(ctx context.Context, rec manifest.PackageRecord) (bool, error) {
	return m.backing.DownloadToCache(ctx, rec)
}

// AddToIndex forwards the write, then invalidates only the keys it
// affects: the name list (a new id may have appeared), the affected
// id's version list, and that specific (id, version) record.
func (m *MemoizingRepository) AddToIndex(ctx context.Context, rec manifest.PackageRecord, permanent bool) error {
	if err := m.backing.AddToIndex(ctx, rec, permanent); err != nil {
		return err
	}
	m.namesValid = false
	delete(m.versions, rec.ID)
	delete(m.records[rec.ID], rec.Version)
	return nil
}

// Flush forwards to the backing repository.
func (m *MemoizingRepository) Flush(ctx context.Context) error {
	return m.backing.Flush(ctx)
}

func copyIDs(in []manifest.PackageID) []manifest.PackageID {
	out := make([]manifest.PackageID, len(in))
	copy(out, in)
	return out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
