// Copyright 2025 Upbound Inc.
// All rights reserved

// Package config handles the qpm CLI's persistent settings file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// Location of the qpm settings file.
const (
	ConfigDir  = ".qpm"
	ConfigFile = "qpm.settings.json"
)

const (
	// DefaultTimeoutMillis is the default network request timeout, in
	// milliseconds, used when a Settings value doesn't override it.
	DefaultTimeoutMillis = 5000

	errReadConfig    = "failed to read settings file"
	errParseConfig   = "failed to parse settings file"
	errWriteConfig   = "failed to write settings file"
	errMarshalConfig = "failed to marshal settings"
)

// Settings is the format of the qpm settings file (qpm.settings.json).
// It holds the workspace-independent configuration shared by every
// qpm command: where the content-addressed cache lives, how long
// network operations may take, whether the restorer should prefer
// symlinks, and the default NDK installation to resolve toolchains
// against.
type Settings struct {
	// Cache is the absolute path to the content-addressed cache root.
	Cache string `json:"cache"`

	// TimeoutMillis bounds how long a single repository network
	// operation may run before it is treated as failed.
	TimeoutMillis uint32 `json:"timeout"`

	// Symlink controls whether the restorer tries to link cached source
	// trees and binaries into a workspace's dependencies directory (it
	// does so only where its filesystem allows, copying otherwise), or
	// always copies them.
	Symlink bool `json:"symlink"`

	// NdkPath is the default NDK installation used to resolve a
	// workspace's toolchain when a manifest doesn't override it.
	NdkPath string `json:"ndkPath,omitempty"`
}

// applyDefaults fills in zero-valued fields that have a meaningful
// default, mirroring the behavior of a freshly initialized settings
// file.
func (s *Settings) applyDefaults() {
	if s.TimeoutMillis == 0 {
		s.TimeoutMillis = DefaultTimeoutMillis
	}
}

// Source loads and persists Settings from some backing store.
type Source interface {
	// Initialize prepares the backing store (e.g. creating a settings
	// file with defaults if none exists yet).
	Initialize() error
	// GetSettings returns the current settings.
	GetSettings() (*Settings, error)
	// UpdateSettings persists s as the new settings.
	UpdateSettings(s *Settings) error
}

// Extract performs extraction of settings from the provided source.
func Extract(src Source) (*Settings, error) {
	s, err := src.GetSettings()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetDefaultPath returns the default settings file path.
func GetDefaultPath() (string, error) {
	h, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, ConfigDir, ConfigFile), nil
}

// FSSource is a Source backed by a settings file on an afero
// filesystem, written atomically via a temp-file-then-rename, matching
// the cache and repository packages' persistence idiom.
type FSSource struct {
	fs   afero.Fs
	path string
}

// NewFSSource constructs an FSSource rooted at path on fs.
func NewFSSource(fs afero.Fs, path string) *FSSource {
	return &FSSource{fs: fs, path: path}
}

// Initialize creates path with default settings if it doesn't already
// exist.
func (s *FSSource) Initialize() error {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return errors.Wrap(err, errReadConfig)
	}
	if exists {
		return nil
	}
	defaults := &Settings{}
	defaults.applyDefaults()
	return s.UpdateSettings(defaults)
}

// GetSettings reads and parses the settings file, applying defaults
// for any zero-valued fields that have one.
func (s *FSSource) GetSettings() (*Settings, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, errors.Wrap(err, errReadConfig)
	}
	var cfg Settings
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, errParseConfig)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// UpdateSettings persists cfg to the settings file.
func (s *FSSource) UpdateSettings(cfg *Settings) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, errMarshalConfig)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, errWriteConfig)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o644); err != nil {
		return errors.Wrap(err, errWriteConfig)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errWriteConfig)
	}
	return nil
}
