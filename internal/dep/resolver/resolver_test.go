package resolver

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

// fakeRepo is an in-memory Repository exercising just what the resolver
// needs: ListVersions and GetPackage over a fixed published set.
type fakeRepo struct {
	records map[manifest.PackageID]map[string]manifest.PackageRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[manifest.PackageID]map[string]manifest.PackageRecord{}}
}

func (f *fakeRepo) publish(id manifest.PackageID, version string, deps ...manifest.Dependency) {
	if f.records[id] == nil {
		f.records[id] = map[string]manifest.PackageRecord{}
	}
	f.records[id][version] = manifest.PackageRecord{ID: id, Version: version, Dependencies: deps}
}

func (f *fakeRepo) ListNames(context.Context) ([]manifest.PackageID, error) { return nil, nil }

func (f *fakeRepo) ListVersions(_ context.Context, id manifest.PackageID) ([]string, bool, error) {
	versions, ok := f.records[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	return out, true, nil
}

func (f *fakeRepo) GetPackage(_ context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error) {
	versions, ok := f.records[id]
	if !ok {
		return manifest.PackageRecord{}, false, nil
	}
	rec, ok := versions[version]
	return rec, ok, nil
}

func (f *fakeRepo) DownloadToCache(context.Context, manifest.PackageRecord) (bool, error) {
	return false, nil
}
func (f *fakeRepo) AddToIndex(context.Context, manifest.PackageRecord, bool) error { return nil }
func (f *fakeRepo) Flush(context.Context) error                                   { return nil }

func dep(id manifest.PackageID, rangeText string, private bool) manifest.Dependency {
	d := manifest.Dependency{ID: id, RangeText: rangeText, Metadata: manifest.DependencyMetadata{IsPrivate: private}}
	if err := d.ParseDependency(); err != nil {
		panic(err)
	}
	return d
}

func rootManifest(id, version string, deps ...manifest.Dependency) manifest.Manifest {
	return manifest.Manifest{ID: manifest.PackageID(id), Version: version, Dependencies: deps}
}

func TestResolveLinearChain(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "0.1.0")
	repo.publish("b", "0.1.0", dep("a", "*", false))

	m := rootManifest("root", "1.0.0", dep("b", "*", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	assert.Assert(t, len(assignment) == 2, "expected 2 resolved packages, got %d: %v", len(assignment), assignment)
	assert.Equal(t, assignment["a"].Version.String(), "0.1.0")
	assert.Equal(t, assignment["b"].Version.String(), "0.1.0")
}

func TestResolveDiamondUnsatisfiable(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "0.1.0")
	repo.publish("a", "0.2.0")
	repo.publish("b", "0.1.0", dep("a", "^0.1.0", false))
	repo.publish("c", "0.1.0", dep("a", "^0.2.0", false))

	m := rootManifest("root", "1.0.0", dep("b", "*", false), dep("c", "*", false))
	_, err := Resolve(context.Background(), repo, m, nil)
	assert.Assert(t, err != nil, "expected Unsatisfiable error")
	_, ok := err.(*UnsatisfiableError)
	assert.Assert(t, ok, "expected *UnsatisfiableError, got %T: %v", err, err)
}

func TestResolveDiamondResolvable(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "0.1.0")
	repo.publish("a", "0.2.0")
	repo.publish("b", "0.1.0", dep("a", "^0.1.0", false))
	repo.publish("c", "0.1.0", dep("a", "^0.1.0", false))

	m := rootManifest("root", "1.0.0", dep("b", "*", false), dep("c", "*", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	want := map[manifest.PackageID]string{"a": "0.1.0", "b": "0.1.0", "c": "0.1.0"}
	assert.Assert(t, len(assignment) == len(want), "got %d entries, want %d: %+v", len(assignment), len(want), assignment)
	for id, v := range want {
		assert.Equal(t, assignment[id].Version.String(), v)
	}
}

func TestResolveHighestSatisfyingPick(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "1.0.0")
	repo.publish("a", "1.1.0")
	repo.publish("a", "1.2.0")

	m := rootManifest("root", "1.0.0", dep("a", "^1.0.0", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	assert.Equal(t, assignment["a"].Version.String(), "1.2.0")
}

func TestResolvePrivateContainment(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("b", "1.0.0")
	repo.publish("a", "1.0.0", dep("b", "1.*", true))

	m := rootManifest("root", "1.0.0", dep("a", "*", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	_, hasB := assignment["b"]
	assert.Assert(t, !hasB, "expected private dependency b to be excluded, got %+v", assignment)
	_, hasA := assignment["a"]
	assert.Assert(t, hasA, "expected a to be present, got %+v", assignment)
}

func TestResolveSelfDependencyFails(t *testing.T) {
	m := rootManifest("root", "1.0.0", dep("root", "*", false))
	_, err := Resolve(context.Background(), newFakeRepo(), m, nil)
	_, ok := err.(*SelfDependencyError)
	assert.Assert(t, ok, "expected *SelfDependencyError, got %T: %v", err, err)
}

func TestResolveCyclicNonRootDependency(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "1.0.0", dep("b", "^1.0.0", false))
	repo.publish("b", "1.0.0", dep("a", "^1.0.0", false))

	m := rootManifest("root", "1.0.0", dep("a", "*", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	assert.Equal(t, assignment["a"].Version.String(), "1.0.0")
	assert.Equal(t, assignment["b"].Version.String(), "1.0.0")
}

func TestResolveEmptyDependencyList(t *testing.T) {
	m := rootManifest("root", "1.0.0")
	assignment, err := Resolve(context.Background(), newFakeRepo(), m, nil)
	assert.NilError(t, err)
	assert.Assert(t, len(assignment) == 0, "expected empty assignment, got %+v", assignment)
}

func TestResolveUnknownPackage(t *testing.T) {
	m := rootManifest("root", "1.0.0", dep("missing", "*", false))
	_, err := Resolve(context.Background(), newFakeRepo(), m, nil)
	_, ok := err.(*UnknownPackageError)
	assert.Assert(t, ok, "expected *UnknownPackageError, got %T: %v", err, err)
}

func TestResolvePicksHighestWithinRange(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "0.1.0")
	repo.publish("a", "0.2.0")
	repo.publish("a", "0.3.0")

	// ^0.1.0 pins the zero-major minor: 0.2.0 and 0.3.0 are out of range,
	// so the highest admissible version is 0.1.0 itself.
	m := rootManifest("root", "1.0.0", dep("a", "^0.1.0", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	assert.Equal(t, assignment["a"].Version.String(), "0.1.0")
}

func TestResolveBacktracksToEarlierDecision(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "2.0.0", dep("c", "^2.0.0", false))
	repo.publish("c", "2.0.0")
	repo.publish("c", "2.1.0")
	repo.publish("b", "1.0.0", dep("c", "~2.0.0", false))
	repo.publish("b", "1.1.0", dep("c", "~2.0.0", false))
	repo.publish("b", "1.2.0", dep("c", "~2.0.0", false))

	// The solver decides a (one candidate) then c (fewer candidates than
	// b), preferring c@2.1.0; every version of b then rejects it, forcing
	// a backtrack to c's remaining candidate 2.0.0 before b can be placed.
	m := rootManifest("root", "1.0.0", dep("a", "*", false), dep("b", "*", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)
	assert.Equal(t, assignment["a"].Version.String(), "2.0.0")
	assert.Equal(t, assignment["b"].Version.String(), "1.2.0")
	assert.Equal(t, assignment["c"].Version.String(), "2.0.0")
}

func TestLockedResolveReproducesAssignment(t *testing.T) {
	repo := newFakeRepo()
	repo.publish("a", "0.1.0")
	repo.publish("b", "0.1.0", dep("a", "*", false))

	m := rootManifest("root", "1.0.0", dep("b", "*", false))
	assignment, err := Resolve(context.Background(), repo, m, nil)
	assert.NilError(t, err)

	triplet := manifest.Triplet("arm64-v8a-android")
	restored := map[manifest.PackageID]manifest.RestoredDependency{}
	for id, entry := range assignment {
		restored[id] = manifest.RestoredDependency{Version: entry.Version.String()}
	}
	sm := manifest.SharedManifest{
		Manifest:             m,
		RestoredDependencies: map[manifest.Triplet]map[manifest.PackageID]manifest.RestoredDependency{triplet: restored},
	}

	replayed, err := LockedResolve(context.Background(), repo, sm, triplet)
	assert.NilError(t, err)
	assert.Assert(t, len(replayed) == len(assignment), "locked resolve returned %d entries, want %d", len(replayed), len(assignment))
	for id, entry := range assignment {
		assert.Equal(t, replayed[id].Version.String(), entry.Version.String())
	}
}

func TestLockedResolveFailsOnMissingVersion(t *testing.T) {
	repo := newFakeRepo()
	triplet := manifest.Triplet("arm64-v8a-android")
	sm := manifest.SharedManifest{
		RestoredDependencies: map[manifest.Triplet]map[manifest.PackageID]manifest.RestoredDependency{
			triplet: {"gone": {Version: "1.0.0"}},
		},
	}

	_, err := LockedResolve(context.Background(), repo, sm, triplet)
	_, ok := err.(*UnknownVersionError)
	assert.Assert(t, ok, "expected *UnknownVersionError, got %T: %v", err, err)
}

func TestOrderIsDeterministicAndDependencyFirst(t *testing.T) {
	assignment := Assignment{
		"b": ResolvedEntry{Record: manifest.PackageRecord{ID: "b", Dependencies: []manifest.Dependency{dep("a", "*", false)}}},
		"a": ResolvedEntry{Record: manifest.PackageRecord{ID: "a"}},
	}
	order := Order(assignment)
	assert.DeepEqual(t, order, []manifest.PackageID{"a", "b"})
}
