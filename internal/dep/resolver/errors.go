package resolver

import (
	"fmt"
	"strings"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

// UnknownPackageError reports that no repository has ever heard of id.
type UnknownPackageError struct {
	ID manifest.PackageID
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package: %s", e.ID)
}

// UnknownVersionError reports that a specific version was demanded (by
// a locked resolve) but is no longer served.
type UnknownVersionError struct {
	ID      manifest.PackageID
	Version string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version: %s@%s", e.ID, e.Version)
}

// SelfDependencyError reports that the root manifest declares itself as
// a dependency.
type SelfDependencyError struct {
	ID manifest.PackageID
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("package %s declares itself as a dependency", e.ID)
}

// UnsatisfiableError reports that no assignment exists. Derivation is a
// human-readable chain of the conflicting requirements encountered
// while exhausting the search, in the order they were recorded.
type UnsatisfiableError struct {
	Derivation []string
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("no satisfying assignment exists:\n  %s", strings.Join(e.Derivation, "\n  "))
}
