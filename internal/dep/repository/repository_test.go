package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/qpm-ndk/qpm/internal/dep/cache"
	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

func newFileRepo(t *testing.T) (*FileRepository, afero.Fs, *cache.Cache) {
	t.Helper()
	fs := afero.NewMemMapFs()
	c := cache.New(fs, "/cache")
	repo, err := NewFileRepository(fs, "/config/qpm.repository.json", c)
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	return repo, fs, c
}

func publish(t *testing.T, repo *FileRepository, fs afero.Fs, id manifest.PackageID, version string) {
	t.Helper()
	rec := manifest.PackageRecord{ID: id, Version: version}
	err := repo.PublishLocal(rec, func(scratch string) error {
		m := manifest.Manifest{ID: id, Version: version}
		sm := manifest.SharedManifest{Manifest: m}
		b, err := json.Marshal(sm)
		if err != nil {
			return err
		}
		if err := afero.WriteFile(fs, filepath.Join(scratch, "src", manifest.SharedFileName), b, 0o644); err != nil {
			return err
		}
		mb, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return afero.WriteFile(fs, filepath.Join(scratch, "src", manifest.FileName), mb, 0o644)
	})
	if err != nil {
		t.Fatalf("PublishLocal: %v", err)
	}
}

func TestFileRepositoryPublishAndGet(t *testing.T) {
	ctx := context.Background()
	repo, fs, _ := newFileRepo(t)
	publish(t, repo, fs, "a", "1.0.0")

	rec, ok, err := repo.GetPackage(ctx, "a", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("GetPackage = %v, %v, %v", rec, ok, err)
	}
	if rec.ID != "a" || rec.Version != "1.0.0" {
		t.Errorf("unexpected record: %+v", rec)
	}

	if err := repo.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := NewFileRepository(fs, "/config/qpm.repository.json", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec2, ok, err := reloaded.GetPackage(ctx, "a", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("reloaded GetPackage = %v, %v, %v", rec2, ok, err)
	}
}

func TestFileRepositoryAddWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	repo, fs, _ := newFileRepo(t)
	publish(t, repo, fs, "a", "1.0.0")

	err := repo.AddToIndex(ctx, manifest.PackageRecord{ID: "a", Version: "1.0.0", ArtifactURL: "should-not-stick"}, true)
	if err != nil {
		t.Fatalf("AddToIndex: %v", err)
	}
	rec, _, _ := repo.GetPackage(ctx, "a", "1.0.0")
	if rec.ArtifactURL != "" {
		t.Error("expected AddToIndex to not overwrite an existing entry by default")
	}
}

type stubRepo struct {
	names    []manifest.PackageID
	versions map[manifest.PackageID][]string
	records  map[manifest.PackageID]map[string]manifest.PackageRecord
}

func (s *stubRepo) ListNames(context.Context) ([]manifest.PackageID, error) { return s.names, nil }
func (s *stubRepo) ListVersions(_ context.Context, id manifest.PackageID) ([]string, bool, error) {
	v, ok := s.versions[id]
	return v, ok, nil
}
func (s *stubRepo) GetPackage(_ context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error) {
	byVer, ok := s.records[id]
	if !ok {
		return manifest.PackageRecord{}, false, nil
	}
	rec, ok := byVer[version]
	return rec, ok, nil
}
func (s *stubRepo) DownloadToCache(context.Context, manifest.PackageRecord) (bool, error) { return false, nil }
func (s *stubRepo) AddToIndex(context.Context, manifest.PackageRecord, bool) error        { return nil }
func (s *stubRepo) Flush(context.Context) error                                          { return nil }

func TestMultiRepositoryUnionAndFirstHit(t *testing.T) {
	ctx := context.Background()
	local := &stubRepo{
		names:    []manifest.PackageID{"a"},
		versions: map[manifest.PackageID][]string{"a": {"1.0.0"}},
		records: map[manifest.PackageID]map[string]manifest.PackageRecord{
			"a": {"1.0.0": {ID: "a", Version: "1.0.0", SharedDir: "local"}},
		},
	}
	remote := &stubRepo{
		names:    []manifest.PackageID{"a", "b"},
		versions: map[manifest.PackageID][]string{"a": {"1.0.0", "2.0.0"}, "b": {"1.0.0"}},
		records: map[manifest.PackageID]map[string]manifest.PackageRecord{
			"a": {"1.0.0": {ID: "a", Version: "1.0.0", SharedDir: "remote"}, "2.0.0": {ID: "a", Version: "2.0.0"}},
			"b": {"1.0.0": {ID: "b", Version: "1.0.0"}},
		},
	}
	m := NewMultiRepository(nil, local, remote)

	names, err := m.ListNames(ctx)
	if err != nil || len(names) != 2 {
		t.Fatalf("ListNames = %v, %v", names, err)
	}

	versions, ok, err := m.ListVersions(ctx, "a")
	if err != nil || !ok || len(versions) != 2 {
		t.Fatalf("ListVersions = %v, %v, %v", versions, ok, err)
	}
	if versions[0] != "2.0.0" {
		t.Errorf("expected versions sorted descending, got %v", versions)
	}

	rec, ok, err := m.GetPackage(ctx, "a", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("GetPackage = %v, %v, %v", rec, ok, err)
	}
	if rec.SharedDir != "local" {
		t.Errorf("expected first-hit-wins to prefer local, got %q", rec.SharedDir)
	}
}

func TestMemoizingRepositoryInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	backing := &stubRepo{
		names:    []manifest.PackageID{"a"},
		versions: map[manifest.PackageID][]string{"a": {"1.0.0"}},
		records: map[manifest.PackageID]map[string]manifest.PackageRecord{
			"a": {"1.0.0": {ID: "a", Version: "1.0.0"}},
		},
	}
	m := NewMemoizingRepository(backing)

	if _, err := m.ListNames(ctx); err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	backing.names = append(backing.names, "b")
	names, err := m.ListNames(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("expected cached stale result before invalidation, got %v", names)
	}

	if err := m.AddToIndex(ctx, manifest.PackageRecord{ID: "b", Version: "1.0.0"}, true); err != nil {
		t.Fatalf("AddToIndex: %v", err)
	}
	names, err = m.ListNames(ctx)
	if err != nil || len(names) != 2 {
		t.Fatalf("expected fresh result after invalidation, got %v, %v", names, err)
	}
}
