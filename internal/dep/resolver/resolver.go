// Package resolver implements the version-range solver: a
// unit-propagation-with-conflict-driven backtracking search over a
// repository's published versions, producing a complete assignment or
// an unsatisfiability report.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
	"github.com/qpm-ndk/qpm/internal/dep/repository"
	"github.com/qpm-ndk/qpm/internal/dep/semver"
)

// ResolvedEntry is one member of a solved assignment.
type ResolvedEntry struct {
	Version semver.Version
	Record  manifest.PackageRecord
}

// Assignment maps every transitively required package (excluding the
// root) to the version and record the solver selected for it.
type Assignment map[manifest.PackageID]ResolvedEntry

// constraintInfo is the accumulated, intersected range demanded of an
// id so far, plus a human-readable trail of what produced it.
type constraintInfo struct {
	rng     semver.Range
	sources []string
}

func (c *constraintInfo) describe() string {
	if c == nil || len(c.sources) == 0 {
		return "(no recorded source)"
	}
	return c.sources[len(c.sources)-1]
}

func cloneConstraints(in map[manifest.PackageID]*constraintInfo) map[manifest.PackageID]*constraintInfo {
	out := make(map[manifest.PackageID]*constraintInfo, len(in))
	for k, v := range in {
		srcs := make([]string, len(v.sources))
		copy(srcs, v.sources)
		out[k] = &constraintInfo{rng: v.rng, sources: srcs}
	}
	return out
}

// selectionEntry is one chronological decision on the selection stack,
// carrying enough to undo itself and resume the search from its
// remaining candidates on backtrack.
type selectionEntry struct {
	id        manifest.PackageID
	version   semver.Version
	record    manifest.PackageRecord
	before    map[manifest.PackageID]*constraintInfo
	remaining []semver.Version
}

type solver struct {
	ctx  context.Context
	repo repository.Repository
	log  logging.Logger

	root        manifest.PackageID
	rootVersion semver.Version

	constraints     map[manifest.PackageID]*constraintInfo
	selectedVersion map[manifest.PackageID]semver.Version
	selections      []selectionEntry
	derivation      []string
}

// Resolve solves m's transitive dependency closure against repo,
// returning a complete assignment or an error. The root itself is
// never included in the returned Assignment.
func Resolve(ctx context.Context, repo repository.Repository, m manifest.Manifest, log logging.Logger) (Assignment, error) {
	for _, d := range m.Dependencies {
		if d.ID == m.ID {
			return nil, &SelfDependencyError{ID: m.ID}
		}
	}
	rootVersion, err := m.ParsedVersion()
	if err != nil {
		return nil, errors.Wrap(err, "manifest has an invalid version")
	}
	if log == nil {
		log = logging.NewNopLogger()
	}

	s := &solver{
		ctx:             ctx,
		repo:            repo,
		log:             log,
		root:            m.ID,
		rootVersion:     rootVersion,
		constraints:     map[manifest.PackageID]*constraintInfo{},
		selectedVersion: map[manifest.PackageID]semver.Version{m.ID: rootVersion},
	}

	// The root's own direct dependencies are expanded with private
	// deps kept, since this is the manifest expanding itself rather
	// than a consumer expanding another package's dependencies.
	if err := s.mergeDepsInto(s.constraints, m.ID, m.Version, m.Dependencies, true); err != nil {
		return nil, errors.Wrap(err, "the manifest's own declared dependencies are mutually unsatisfiable")
	}

	for {
		pending := s.pendingIDs()
		if len(pending) == 0 {
			break
		}

		var chosen manifest.PackageID
		var chosenCandidates []semver.Version
		best := -1
		for _, id := range pending {
			cands, err := s.computeCandidates(id)
			if err != nil {
				return nil, err
			}
			if best == -1 || len(cands) < best {
				chosen, chosenCandidates, best = id, cands, len(cands)
			}
		}

		if err := s.trySelect(chosen, chosenCandidates); err != nil {
			if !s.backtrackToRetry() {
				return nil, &UnsatisfiableError{Derivation: s.derivation}
			}
		}
	}

	return s.buildAssignment(), nil
}

func (s *solver) pendingIDs() []manifest.PackageID {
	out := make([]manifest.PackageID, 0, len(s.constraints))
	for id := range s.constraints {
		if _, selected := s.selectedVersion[id]; selected {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// computeCandidates enumerates id's published versions matching its
// current accumulated range, highest first. An id the repository has
// never heard of is a hard UnknownPackageError, not a backtrackable
// conflict; an id whose published versions simply don't satisfy the
// current range yields an empty (but not erroring) candidate list,
// which the caller treats as an ordinary conflict.
func (s *solver) computeCandidates(id manifest.PackageID) ([]semver.Version, error) {
	versions, ok, err := s.repo.ListVersions(s.ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &UnknownPackageError{ID: id}
	}
	rng := s.constraints[id].rng
	matched := make([]semver.Version, 0, len(versions))
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if rng.Matches(v) {
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[j].LessThan(matched[i]) })
	return matched, nil
}

// trySelect attempts each candidate version in descending order until
// one both resolves to a record and merges its dependencies without
// conflict. On success it pushes exactly one selection; on total
// failure it mutates nothing besides the derivation log.
func (s *solver) trySelect(id manifest.PackageID, versions []semver.Version) error {
	before := s.constraints
	for i, v := range versions {
		rec, ok, err := s.repo.GetPackage(s.ctx, id, v.String())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		trial := cloneConstraints(before)
		if err := s.mergeDepsInto(trial, id, v.String(), rec.Dependencies, false); err != nil {
			s.derivation = append(s.derivation, err.Error())
			continue
		}
		s.constraints = trial
		s.selectedVersion[id] = v
		remaining := append([]semver.Version{}, versions[i+1:]...)
		s.selections = append(s.selections, selectionEntry{id: id, version: v, record: rec, before: before, remaining: remaining})
		return nil
	}
	s.derivation = append(s.derivation, fmt.Sprintf("no candidate version of %s satisfies %s", id, before[id].describe()))
	return fmt.Errorf("exhausted candidates for %s", id)
}

// backtrackToRetry pops the selection stack, restoring constraints and
// retrying each popped decision's remaining candidates, until one
// resumes the search or the stack empties.
func (s *solver) backtrackToRetry() bool {
	for len(s.selections) > 0 {
		last := s.selections[len(s.selections)-1]
		s.selections = s.selections[:len(s.selections)-1]
		s.constraints = last.before
		delete(s.selectedVersion, last.id)

		if len(last.remaining) == 0 {
			continue
		}
		if err := s.trySelect(last.id, last.remaining); err == nil {
			return true
		}
	}
	return false
}

// mergeDepsInto intersects each of deps' ranges into trial, skipping
// private dependencies unless keepPrivate (true only when the root
// expands its own declarations). It fails if a dependency names the
// root with an incompatible range, or if an id it constrains is
// already selected at a version the new merged range excludes.
func (s *solver) mergeDepsInto(trial map[manifest.PackageID]*constraintInfo, owner manifest.PackageID, ownerVersion string, deps []manifest.Dependency, keepPrivate bool) error {
	for _, d := range deps {
		if d.Metadata.IsPrivate && !keepPrivate {
			continue
		}
		if d.ID == s.root {
			if !d.Range.Matches(s.rootVersion) {
				return fmt.Errorf("%s@%s requires %s %s, which excludes the root version %s", owner, ownerVersion, d.ID, d.RangeText, s.rootVersion)
			}
			continue
		}

		existing := trial[d.ID]
		var newRange semver.Range
		if existing != nil {
			newRange = existing.rng.Intersect(d.Range)
		} else {
			newRange = d.Range
		}

		if fixed, selected := s.selectedVersion[d.ID]; selected {
			if !newRange.Matches(fixed) {
				return fmt.Errorf("%s@%s requires %s %s, which excludes the already-selected %s@%s", owner, ownerVersion, d.ID, d.RangeText, d.ID, fixed)
			}
		}

		sources := []string{}
		if existing != nil {
			sources = existing.sources
		}
		sources = append(sources, fmt.Sprintf("%s@%s requires %s %s", owner, ownerVersion, d.ID, d.RangeText))
		trial[d.ID] = &constraintInfo{rng: newRange, sources: sources}
	}
	return nil
}

func (s *solver) buildAssignment() Assignment {
	out := make(Assignment, len(s.selections))
	for _, sel := range s.selections {
		out[sel.id] = ResolvedEntry{Version: sel.version, Record: sel.record}
	}
	return out
}

// Order returns a's ids in a stable, deterministic order: topological
// by dependency edges (a dependency before anything that demands it),
// ties broken by id. Cycles between non-root ids can legitimately
// occur; each is broken by releasing the lexicographically smallest
// still-blocked id.
func Order(a Assignment) []manifest.PackageID {
	inDegree := map[manifest.PackageID]int{}
	dependents := map[manifest.PackageID][]manifest.PackageID{}
	for id := range a {
		inDegree[id] = 0
	}
	for id, entry := range a {
		for _, d := range entry.Record.Dependencies {
			if d.Metadata.IsPrivate {
				continue
			}
			if _, ok := a[d.ID]; !ok {
				continue
			}
			dependents[d.ID] = append(dependents[d.ID], id)
			inDegree[id]++
		}
	}

	var ready []manifest.PackageID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var out []manifest.PackageID
	remaining := len(inDegree)
	for remaining > 0 {
		if len(ready) == 0 {
			// A cycle remains: release the smallest remaining id to
			// guarantee termination with a deterministic choice.
			var smallest manifest.PackageID
			first := true
			for id, deg := range inDegree {
				if deg < 0 {
					continue
				}
				if first || id < smallest {
					smallest, first = id, false
				}
			}
			ready = append(ready, smallest)
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		next := ready[0]
		ready = ready[1:]
		if inDegree[next] < 0 {
			continue
		}
		out = append(out, next)
		inDegree[next] = -1
		remaining--
		for _, dep := range dependents[next] {
			if inDegree[dep] < 0 {
				continue
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out
}
