// Copyright 2025 Upbound Inc.
// All rights reserved

package main

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr/funcr"
	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/logging"

	"github.com/qpm-ndk/qpm/internal/config"
	"github.com/qpm-ndk/qpm/internal/dep/cache"
	"github.com/qpm-ndk/qpm/internal/dep/repository"
)

const (
	repositoryIndexFile = "qpm.repository.json"

	// defaultRegistryURL is the fixed base URL of the default remote
	// package registry. The registry address is not user configuration.
	defaultRegistryURL = "https://qpackages.com"
)

// appContext carries the shared state every qpm subcommand operates
// against: the real filesystem, the loaded settings, the content cache
// they're rooted on, and the repository chain dependencies are
// resolved and downloaded through.
type appContext struct {
	fs       afero.Fs
	settings *config.Settings
	cache    *cache.Cache
	repo     repository.Repository
	log      logging.Logger
}

// newAppContext wires the shared dependencies every subcommand needs:
// qpm.settings.json, the content-addressed cache it names, and a
// memoizing multi-repository backed by the local file index plus, unless
// offline is set, the remote registry at defaultRegistryURL.
func newAppContext(verbose, offline bool) (*appContext, error) {
	log := logging.NewNopLogger()
	if verbose {
		log = logging.NewLogrLogger(funcr.New(func(prefix, args string) {
			if prefix != "" {
				os.Stderr.WriteString(prefix + ": " + args + "\n")
				return
			}
			os.Stderr.WriteString(args + "\n")
		}, funcr.Options{}))
	}

	fs := afero.NewOsFs()
	cfgPath, err := config.GetDefaultPath()
	if err != nil {
		return nil, err
	}
	src := config.NewFSSource(fs, cfgPath)
	if err := src.Initialize(); err != nil {
		return nil, err
	}
	settings, err := src.GetSettings()
	if err != nil {
		return nil, err
	}

	cacheRoot := settings.Cache
	if cacheRoot == "" {
		home, err := filepath.Abs(".")
		if err != nil {
			return nil, err
		}
		cacheRoot = filepath.Join(home, ".qpm", "cache")
	}
	c := cache.New(fs, cacheRoot, cache.WithLogger(log))

	indexPath := filepath.Join(filepath.Dir(cfgPath), repositoryIndexFile)
	fileRepo, err := repository.NewFileRepository(fs, indexPath, c, repository.WithFileLogger(log))
	if err != nil {
		return nil, err
	}

	// The local file repository comes first so cached entries shadow the
	// remote registry.
	backing := []repository.Repository{fileRepo}
	if !offline {
		httpClient := &http.Client{Timeout: time.Duration(settings.TimeoutMillis) * time.Millisecond}
		remoteRepo := repository.NewRemoteRepository(defaultRegistryURL, c,
			repository.WithRemoteLogger(log),
			repository.WithHTTPClient(httpClient))
		backing = append(backing, remoteRepo)
	}

	var repo repository.Repository = repository.NewMultiRepository(log, backing...)
	repo = repository.NewMemoizingRepository(repo)

	return &appContext{fs: fs, settings: settings, cache: c, repo: repo, log: log}, nil
}
