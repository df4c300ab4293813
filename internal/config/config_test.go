// Copyright 2025 Upbound Inc.
// All rights reserved

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/test"
)

func TestFSSourceInitializeWritesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := NewFSSource(fs, "/home/.qpm/qpm.settings.json")

	if err := src.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	got, err := src.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	want := &Settings{TimeoutMillis: DefaultTimeoutMillis}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetSettings(): -want, +got:\n%s", diff)
	}
}

func TestFSSourceInitializeIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := NewFSSource(fs, "/home/.qpm/qpm.settings.json")

	if err := src.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := src.UpdateSettings(&Settings{Cache: "/cache", TimeoutMillis: 9000, Symlink: true}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	// A second Initialize must not clobber the settings written above.
	if err := src.Initialize(); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	got, err := src.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.Cache != "/cache" || got.TimeoutMillis != 9000 || !got.Symlink {
		t.Errorf("Initialize clobbered existing settings: %+v", got)
	}
}

func TestFSSourceUpdateThenReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/.qpm/qpm.settings.json"
	src := NewFSSource(fs, path)

	want := &Settings{Cache: "/var/qpm/cache", TimeoutMillis: 1000, Symlink: false, NdkPath: "/opt/ndk"}
	if err := src.UpdateSettings(want); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	reloaded := NewFSSource(fs, path)
	got, err := reloaded.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetSettings(): -want, +got:\n%s", diff)
	}
}

func TestGetSettingsMissingFileErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := NewFSSource(fs, "/home/.qpm/qpm.settings.json")

	_, err := src.GetSettings()
	if err == nil {
		t.Fatal("expected an error reading a settings file that was never initialized")
	}
}

func TestExtractUsesSource(t *testing.T) {
	want := &Settings{Cache: "/cache", TimeoutMillis: DefaultTimeoutMillis}
	mock := &MockSource{GetSettingsFn: func() (*Settings, error) { return want, nil }}

	got, err := Extract(mock)
	if diff := cmp.Diff(nil, err, test.EquateErrors()); diff != "" {
		t.Errorf("Extract(...): -want error, +got error:\n%s", diff)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract(...): -want, +got:\n%s", diff)
	}
}
