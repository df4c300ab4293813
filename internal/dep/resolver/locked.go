package resolver

import (
	"context"
	"sort"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
	"github.com/qpm-ndk/qpm/internal/dep/repository"
	"github.com/qpm-ndk/qpm/internal/dep/semver"
)

// LockedResolve consumes a prior lock file instead of solving: for the
// given triplet, it looks up each restored (id, version) in repo to
// obtain its record, in deterministic id order. It fails if any locked
// entry is no longer retrievable.
func LockedResolve(ctx context.Context, repo repository.Repository, sm manifest.SharedManifest, triplet manifest.Triplet) (Assignment, error) {
	restored, ok := sm.RestoredDependencies[triplet]
	if !ok {
		return Assignment{}, nil
	}

	ids := make([]manifest.PackageID, 0, len(restored))
	for id := range restored {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(Assignment, len(ids))
	for _, id := range ids {
		entry := restored[id]
		rec, ok, err := repo.GetPackage(ctx, id, entry.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &UnknownVersionError{ID: id, Version: entry.Version}
		}
		v, err := semver.NewVersion(entry.Version)
		if err != nil {
			return nil, err
		}
		out[id] = ResolvedEntry{Version: v, Record: rec}
	}
	return out, nil
}
