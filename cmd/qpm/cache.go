// Copyright 2025 Upbound Inc.
// All rights reserved

package main

import (
	"github.com/pterm/pterm"
)

// cacheCmd groups commands for inspecting and maintaining the local
// content-addressed package cache.
type cacheCmd struct {
	Clear cacheClearCmd `cmd:"" help:"Remove every entry from the local cache."`
	List  cacheListCmd  `cmd:"" help:"List every (package, version) pair currently cached."`
}

type cacheClearCmd struct{}

func (c *cacheClearCmd) Run(app *appContext) error {
	if err := app.cache.Clear(); err != nil {
		return err
	}
	pterm.Success.Printfln("cache cleared")
	return nil
}

type cacheListCmd struct{}

func (c *cacheListCmd) Run(app *appContext) error {
	entries, err := app.cache.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Printfln("cache is empty")
		return nil
	}
	for _, e := range entries {
		pterm.Printfln("%s %s", e.ID, e.Version)
	}
	return nil
}
