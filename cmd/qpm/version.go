// Copyright 2025 Upbound Inc.
// All rights reserved

package main

import (
	"fmt"
	"runtime"

	"github.com/qpm-ndk/qpm/internal/version"
)

// versionCmd is the `qpm version` command.
type versionCmd struct{}

func (c *versionCmd) Run() error {
	fmt.Printf("Version:\t%s\n", version.Version())
	fmt.Printf("Git Commit:\t%s\n", version.GitCommit())
	fmt.Printf("Go Version:\t%s\n", runtime.Version())
	fmt.Printf("OS/Arch:\t%s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
