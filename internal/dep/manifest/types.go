// Package manifest holds the data model shared by the resolver,
// repository, cache, and restorer: package identifiers, version ranges,
// dependency declarations, workspace manifests, and lock files.
package manifest

import (
	"github.com/qpm-ndk/qpm/internal/dep/semver"
)

// PackageID is an opaque, globally-unique, case-sensitive package
// identifier, compared byte-wise.
type PackageID string

// Triplet identifies a target build configuration (architecture + ABI).
type Triplet string

// DependencyMetadata carries the flags and overrides attached to a
// dependency declaration. All fields besides IsPrivate are opaque to the
// resolver; the cache and restorer consume them when present.
type DependencyMetadata struct {
	IsPrivate       bool     `json:"isPrivate,omitempty"`
	IsHeaderOnly    bool     `json:"isHeaderOnly,omitempty"`
	IsStaticLinking bool     `json:"isStaticLinking,omitempty"`
	AdditionalFiles []string `json:"additionalFiles,omitempty"`
	BranchName      *string  `json:"branchName,omitempty"`
	OverrideSoName  *string  `json:"overrideSoName,omitempty"`
	StyleOverride   *string  `json:"styleOverride,omitempty"`
}

// Dependency is a declared (package_id, version_range, metadata) tuple.
// RangeText is the literal range expression, preserved verbatim for
// round-tripping through JSON; Range is the parsed form used by the
// resolver.
type Dependency struct {
	ID        PackageID          `json:"id"`
	RangeText string             `json:"versionRange"`
	Range     semver.Range       `json:"-"`
	Metadata  DependencyMetadata `json:"metadata,omitempty"`
}

// ParseDependency parses a Dependency's RangeText into its Range field,
// returning a RangeParseError if malformed.
func (d *Dependency) ParseDependency() error {
	r, err := semver.ParseRange(d.RangeText)
	if err != nil {
		return err
	}
	d.Range = r
	return nil
}

// TripletSettings are per-triplet workspace settings the resolver never
// inspects: an NDK version constraint and a toolchain output path.
type TripletSettings struct {
	NdkVersion   string `json:"ndkVersion,omitempty"`
	ToolchainOut string `json:"toolchainOut,omitempty"`
}

// WorkspaceSettings holds the manifest's default triplet settings plus
// any per-triplet overrides.
type WorkspaceSettings struct {
	Default  TripletSettings             `json:"default,omitempty"`
	Triplets map[Triplet]TripletSettings `json:"triplets,omitempty"`
}

// ForTriplet returns the effective settings for t, falling back to the
// default when no override exists.
func (w WorkspaceSettings) ForTriplet(t Triplet) TripletSettings {
	if s, ok := w.Triplets[t]; ok {
		return s
	}
	return w.Default
}

// Manifest is the workspace's package manifest (qpm.json): its own
// identity, its direct dependencies, and settings. Nothing here checks
// its dependencies against ID. The resolver rejects a manifest that
// lists ID among its direct dependencies; a package deeper in the graph
// that depends on ID is accepted when its range admits the manifest's
// own version, and fails resolution otherwise.
type Manifest struct {
	ID              PackageID         `json:"id"`
	Version         string            `json:"version"`
	SharedDir       string            `json:"sharedDir"`
	DependenciesDir string            `json:"dependenciesDir"`
	Dependencies    []Dependency      `json:"dependencies,omitempty"`
	Settings        WorkspaceSettings `json:"workspaceSettings,omitempty"`
}

// ParsedVersion parses m.Version into a semver.Version.
func (m Manifest) ParsedVersion() (semver.Version, error) {
	return semver.NewVersion(m.Version)
}

// RestoredDependency is one entry of a triplet's restored_dependencies
// map: the version a dependency was pinned to, plus its resolved
// metadata (which may differ from the declaring manifest's, since it
// reflects the metadata carried by the package actually selected).
type RestoredDependency struct {
	Version  string             `json:"version"`
	Metadata DependencyMetadata `json:"metadata,omitempty"`
}

// SharedManifest is the lock file (qpm.shared.json): a snapshot of the
// workspace manifest plus, for each triplet, the fully resolved
// dependency set. It is a pure function of (manifest, repository state)
// at resolve time.
type SharedManifest struct {
	Manifest             Manifest                                     `json:"manifest"`
	RestoredDependencies map[Triplet]map[PackageID]RestoredDependency `json:"restoredDependencies"`
}

// PackageRecord is what a repository serves for (id, version): the
// published package's own shared manifest, plus an optional artifact
// download URL used by remote repositories.
type PackageRecord struct {
	ID           PackageID    `json:"id"`
	Version      string       `json:"version"`
	SharedDir    string       `json:"sharedDir"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	ArtifactURL  string       `json:"artifactUrl,omitempty"`
}

// ParsedVersion parses the record's Version into a semver.Version.
func (r PackageRecord) ParsedVersion() (semver.Version, error) {
	return semver.NewVersion(r.Version)
}

// ParseDependencies parses every declared dependency's range text.
// Records arriving from JSON (a registry response or the local index)
// carry only RangeText; this must run before the resolver can use them.
func (r *PackageRecord) ParseDependencies() error {
	for i := range r.Dependencies {
		if err := r.Dependencies[i].ParseDependency(); err != nil {
			return err
		}
	}
	return nil
}

// BinaryArtifact describes one triplet's cached binary: the canonical
// release filename, an optional debug-build sibling, and whether it is
// a static archive.
type BinaryArtifact struct {
	Filename      string
	DebugFilename string
	IsStatic      bool
}

// Artifact is everything the cache holds for one (id, version): the
// source tree (headers under the package's shared dir) plus zero or
// more per-triplet binaries, content-addressed by (id, version).
type Artifact struct {
	ID       PackageID
	Version  string
	SrcDir   string
	Binaries map[Triplet]BinaryArtifact
}
