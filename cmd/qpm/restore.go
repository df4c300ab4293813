// Copyright 2025 Upbound Inc.
// All rights reserved

package main

import (
	"context"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
	"github.com/qpm-ndk/qpm/internal/dep/restore"
)

// restoreCmd resolves (or replays a lock for) the workspace's
// dependencies and materializes them into its dependencies directory.
type restoreCmd struct {
	Locked bool `help:"Restore from the existing lock file instead of resolving from scratch. Never rewrites qpm.shared.json."`
}

func (c *restoreCmd) Run(ctx context.Context, app *appContext, root *cli) error {
	m, err := manifest.Load(app.fs, ".")
	if err != nil {
		return errors.Wrap(err, "failed to load qpm.json")
	}

	sm := manifest.SharedManifest{Manifest: m}
	if exists, err := afero.Exists(app.fs, filepath.Join(".", manifest.SharedFileName)); err != nil {
		return errors.Wrap(err, "failed to check for an existing qpm.shared.json")
	} else if exists {
		sm, err = manifest.LoadShared(app.fs, ".")
		if err != nil {
			return errors.Wrap(err, "failed to load qpm.shared.json")
		}
	} else if c.Locked {
		return errors.New("--locked requires an existing qpm.shared.json")
	}

	opts := []restore.Option{restore.WithLogger(app.log)}
	if !app.settings.Symlink {
		opts = append(opts, restore.WithCopyOnly())
	}
	r := restore.New(app.fs, app.cache, app.repo, opts...)

	triplet := manifest.Triplet(root.Triplet)
	updated, result, err := r.Restore(ctx, ".", m, sm, triplet, c.Locked)
	if err != nil {
		return err
	}

	if !c.Locked {
		if err := manifest.SaveShared(app.fs, ".", updated); err != nil {
			return errors.Wrap(err, "failed to write qpm.shared.json")
		}
	}

	if len(result.Order) == 0 {
		pterm.Info.Printfln("%s has no dependencies to restore.", m.ID)
		return nil
	}
	pterm.Success.Printfln("Restored %d dependencies into %s:", len(result.Order), m.DependenciesDir)
	for _, id := range result.Order {
		pterm.Success.Printfln("  %s %s", id, result.Assignment[id].Version)
	}
	return nil
}
