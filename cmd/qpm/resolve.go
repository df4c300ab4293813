// Copyright 2025 Upbound Inc.
// All rights reserved

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"

	"github.com/qpm-ndk/qpm/internal/dep/manifest"
	"github.com/qpm-ndk/qpm/internal/dep/resolver"
)

// resolveCmd solves the workspace's dependencies, writes the lock file,
// and prints the resulting assignment without touching the workspace's
// dependencies directory. With --locked it only replays the existing
// lock and never rewrites it.
type resolveCmd struct {
	Locked bool `help:"Resolve from the existing lock file instead of solving from scratch. Never rewrites qpm.shared.json."`
}

func (c *resolveCmd) Run(ctx context.Context, app *appContext, root *cli) error {
	m, err := manifest.Load(app.fs, ".")
	if err != nil {
		return errors.Wrap(err, "failed to load qpm.json")
	}
	triplet := manifest.Triplet(root.Triplet)

	var assignment resolver.Assignment
	if c.Locked {
		sm, err := manifest.LoadShared(app.fs, ".")
		if err != nil {
			return errors.Wrap(err, "failed to load qpm.shared.json")
		}
		assignment, err = resolver.LockedResolve(ctx, app.repo, sm, triplet)
		if err != nil {
			return err
		}
	} else {
		assignment, err = resolver.Resolve(ctx, app.repo, m, app.log)
		if err != nil {
			return err
		}

		sm := manifest.SharedManifest{Manifest: m}
		if exists, err := afero.Exists(app.fs, filepath.Join(".", manifest.SharedFileName)); err == nil && exists {
			if prior, err := manifest.LoadShared(app.fs, "."); err == nil {
				sm = prior
			}
		}
		sm.Manifest = m
		if sm.RestoredDependencies == nil {
			sm.RestoredDependencies = map[manifest.Triplet]map[manifest.PackageID]manifest.RestoredDependency{}
		}
		restored := make(map[manifest.PackageID]manifest.RestoredDependency, len(assignment))
		for id, entry := range assignment {
			restored[id] = manifest.RestoredDependency{Version: entry.Version.String()}
		}
		sm.RestoredDependencies[triplet] = restored
		if err := manifest.SaveShared(app.fs, ".", sm); err != nil {
			return errors.Wrap(err, "failed to write qpm.shared.json")
		}
	}

	if len(assignment) == 0 {
		pterm.Info.Printfln("%s has no dependencies to resolve.", m.ID)
		return nil
	}

	pterm.Success.Printfln("Resolved %d dependencies for %s@%s:", len(assignment), m.ID, m.Version)
	for _, id := range resolver.Order(assignment) {
		entry := assignment[id]
		fmt.Printf("  %s %s\n", id, entry.Version)
	}
	return nil
}
