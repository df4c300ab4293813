// Copyright 2025 Upbound Inc.
// All rights reserved

package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pterm/pterm"
)

// AfterApply wires the shared appContext used by every subcommand's Run
// method, once global flags have been parsed.
func (c *cli) AfterApply(kongCtx *kong.Context) error {
	if !c.Pretty {
		pterm.DisableStyling()
	}

	app, err := newAppContext(c.Verbose, c.Offline)
	if err != nil {
		return err
	}
	kongCtx.Bind(app)
	kongCtx.Bind(c)
	return nil
}

type cli struct {
	Verbose bool   `help:"Emit detailed progress logging to stderr."`
	Pretty  bool   `default:"true" help:"Enable colored, styled terminal output."`
	Triplet string `default:"arm64-v8a-android" env:"QPM_TRIPLET" help:"Target build triplet (architecture-ABI-platform) binaries are resolved and restored for."`
	Offline bool   `help:"Disable every remote repository, resolving and restoring from the local cache and index only."`

	Resolve resolveCmd `cmd:"" help:"Solve the workspace's dependency graph and print the resulting versions."`
	Restore restoreCmd `cmd:"" help:"Resolve (or replay) the dependency graph and materialize it into the workspace's dependencies directory."`
	Cache   cacheCmd   `cmd:"" help:"Inspect or clear the local package cache."`
	Version versionCmd `cmd:"" help:"Print qpm's version."`
}

const helpDescription = `qpm, the package manager for Android NDK/CMake native modules.

Resolves version-range dependencies against one or more package
repositories, caches their sources and prebuilt binaries, and
restores them into a project's dependencies directory.`

func main() {
	c := cli{}

	parser := kong.Must(&c,
		kong.Name("qpm"),
		kong.Description(helpDescription),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}))

	if len(os.Args) == 1 {
		_, err := parser.Parse([]string{"--help"})
		parser.FatalIfErrorf(err)
		return
	}

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	kongCtx.BindTo(context.Background(), (*context.Context)(nil))
	kongCtx.FatalIfErrorf(kongCtx.Run())
}
