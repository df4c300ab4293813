// Package repository implements the uniform package-repository
// abstraction and its File, Remote, Multi, and Memoizing
// implementations.
package repository

import (
	"context"
	"fmt"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
)

// Repository is the uniform, synchronous-from-the-caller's-perspective
// contract every backend implements.
type Repository interface {
	// ListNames returns every known package id. Order is unspecified;
	// no duplicates.
	ListNames(ctx context.Context) ([]manifest.PackageID, error)
	// ListVersions returns the known version strings for id, and false
	// if the package is unknown. A known package always returns a
	// non-empty list.
	ListVersions(ctx context.Context, id manifest.PackageID) ([]string, bool, error)
	// GetPackage returns the record for (id, version), and false if
	// unknown.
	GetPackage(ctx context.Context, id manifest.PackageID, version string) (manifest.PackageRecord, bool, error)
	// DownloadToCache ensures rec's artifact resides in the local
	// cache, returning whether any network activity occurred. It is
	// idempotent.
	DownloadToCache(ctx context.Context, rec manifest.PackageRecord) (bool, error)
	// AddToIndex makes rec queryable. When permanent is true the
	// insertion must persist across runs once Flush is called.
	AddToIndex(ctx context.Context, rec manifest.PackageRecord, permanent bool) error
	// Flush persists any dirty state.
	Flush(ctx context.Context) error
}

// NetworkError wraps a transport-layer failure talking to a remote
// repository.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// UnauthorizedError reports that a write/publish endpoint rejected
// credentials.
type UnauthorizedError struct {
	Op string
}

func (e *UnauthorizedError) Error() string { return fmt.Sprintf("unauthorized: %s", e.Op) }

// CorruptError reports that served data failed to deserialize.
type CorruptError struct {
	Op  string
	Err error
}

func (e *CorruptError) Error() string { return fmt.Sprintf("corrupt response during %s: %v", e.Op, e.Err) }
func (e *CorruptError) Unwrap() error { return e.Err }
