// Package semver implements range parsing and interval algebra for
// dependency version constraints. Version parsing, comparison, and
// precedence are delegated to Masterminds/semver/v3; the interval/union/
// negation algebra on top of it is specific to this package.
package semver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

const (
	errParseVersion = "invalid version"
)

// Version is a parsed semantic version.
type Version struct {
	v *semver.Version
}

// NewVersion parses a semantic version string.
func NewVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, errors.Wrap(err, errParseVersion)
	}
	return Version{v: v}, nil
}

// MustVersion parses v and panics on error. Intended for constants and
// tests, not for handling caller input.
func MustVersion(s string) Version {
	v, err := NewVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func fromMasterminds(v *semver.Version) Version {
	return Version{v: v}
}

// mustBuild constructs a Version from its components. Used only by the
// range parser, whose inputs are already-validated numeric components,
// so a parse failure here would indicate a bug in this package.
func mustBuild(major, minor, patch uint64, pre string) *semver.Version {
	s := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if pre != "" {
		s += "-" + pre
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the version's major component.
func (v Version) Major() uint64 { return v.v.Major() }

// Minor returns the version's minor component.
func (v Version) Minor() uint64 { return v.v.Minor() }

// Patch returns the version's patch component.
func (v Version) Patch() uint64 { return v.v.Patch() }

// Prerelease returns the prerelease identifier string, empty if none.
func (v Version) Prerelease() string { return v.v.Prerelease() }

// IsZero reports whether v is the unset zero value.
func (v Version) IsZero() bool { return v.v == nil }

// String renders the version in canonical form.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Compare returns -1, 0, or 1 comparing v to o, per standard semver
// precedence (build metadata ignored).
func (v Version) Compare(o Version) int {
	return v.v.Compare(o.v)
}

// LessThan reports whether v orders strictly before o.
func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o are precedence-equal.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Bump returns the next patch release of v: the patch component
// advanced by one, with any prerelease dropped. The result is strictly
// greater than v but not the smallest such version: prereleases of that
// next patch, and for a prerelease v its own release, sort in between.
func (v Version) Bump() Version {
	return fromMasterminds(mustBuild(v.Major(), v.Minor(), v.Patch()+1, ""))
}

// corePart returns the (major, minor, patch) triple, used to key
// prerelease-anchor lookups.
func (v Version) corePart() [3]uint64 {
	return [3]uint64{v.Major(), v.Minor(), v.Patch()}
}
