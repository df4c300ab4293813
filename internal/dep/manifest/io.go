package manifest

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

const (
	// FileName is the workspace package manifest's well-known filename.
	FileName = "qpm.json"
	// SharedFileName is the lock file's well-known filename.
	SharedFileName = "qpm.shared.json"

	errReadManifest  = "failed to read workspace manifest"
	errParseManifest = "failed to parse workspace manifest"
	errWriteManifest = "failed to write workspace manifest"
	errParseDepRange = "failed to parse dependency version range"
)

// Load reads and parses the package manifest at dir/qpm.json, including
// parsing every declared dependency's range text.
func Load(fs afero.Fs, dir string) (Manifest, error) {
	var m Manifest
	b, err := afero.ReadFile(fs, filepath.Join(dir, FileName))
	if err != nil {
		return Manifest{}, errors.Wrap(err, errReadManifest)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, errors.Wrap(err, errParseManifest)
	}
	for i := range m.Dependencies {
		if err := m.Dependencies[i].ParseDependency(); err != nil {
			return Manifest{}, errors.Wrap(err, errParseDepRange)
		}
	}
	return m, nil
}

// LoadShared reads the lock file at dir/qpm.shared.json, including
// parsing its manifest snapshot's dependency ranges. A missing file is
// an error.
func LoadShared(fs afero.Fs, dir string) (SharedManifest, error) {
	var sm SharedManifest
	b, err := afero.ReadFile(fs, filepath.Join(dir, SharedFileName))
	if err != nil {
		return SharedManifest{}, errors.Wrap(err, errReadManifest)
	}
	if err := json.Unmarshal(b, &sm); err != nil {
		return SharedManifest{}, errors.Wrap(err, errParseManifest)
	}
	for i := range sm.Manifest.Dependencies {
		if err := sm.Manifest.Dependencies[i].ParseDependency(); err != nil {
			return SharedManifest{}, errors.Wrap(err, errParseDepRange)
		}
	}
	return sm, nil
}

// SaveShared atomically writes the lock file at dir/qpm.shared.json:
// write to a temp file, then rename over the destination.
func SaveShared(fs afero.Fs, dir string, sm SharedManifest) error {
	b, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return errors.Wrap(err, errWriteManifest)
	}
	dst := filepath.Join(dir, SharedFileName)
	tmp := dst + ".tmp"
	if err := afero.WriteFile(fs, tmp, b, 0o644); err != nil {
		return errors.Wrap(err, errWriteManifest)
	}
	if err := fs.Rename(tmp, dst); err != nil {
		return errors.Wrap(err, errWriteManifest)
	}
	return nil
}
