// Copyright 2024 Upbound Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filesystem contains utilities for working with filesystems.
package filesystem

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// CreateSymlink creates a symlink in a BasePathFs, potentially to another
// BasePathFs that shares the same underlying filesystem.
func CreateSymlink(targetFS *afero.BasePathFs, targetPath string, sourceFS *afero.BasePathFs, sourcePath string) error {
	// Get the real path for targetPath inside targetFS
	realTargetPath, err := targetFS.RealPath(targetPath)
	if err != nil {
		return errors.Wrapf(err, "failed to get real path for targetPath: %s", targetPath)
	}

	// Get the real path for sourcePath inside sourceFS
	realSourcePath, err := sourceFS.RealPath(sourcePath)
	if err != nil {
		return errors.Wrapf(err, "failed to get real path for sourcePath: %s", sourcePath)
	}

	realBasePath := strings.TrimSuffix(realSourcePath, sourcePath)

	// Calculate the relative path from the targetPath's parent directory to the sourcePath
	symlinkParentDir := filepath.Dir(realTargetPath)
	relativeSymlinkPath, err := filepath.Rel(symlinkParentDir, realSourcePath)
	if err != nil {
		return errors.Wrapf(err, "failed to calculate relative symlink path from %s to %s", symlinkParentDir, realSourcePath)
	}

	// Clean the paths to normalize them
	relativeSymlinkPath = filepath.Clean(relativeSymlinkPath)
	realBasePath = filepath.Clean(realBasePath)

	resultRelativeSymlinkPath := relativeSymlinkPath
	if strings.Contains(relativeSymlinkPath, realBasePath) {
		resultRelativeSymlinkPath = strings.Replace(relativeSymlinkPath, realBasePath, "", 1)
	}

	// Join the real base path and target path to get the full symlink target path
	symlinkPath := filepath.Join(realBasePath, realTargetPath)

	// Check if the symlink or file already exists
	if _, err := os.Lstat(symlinkPath); err == nil {
		// If it exists, remove it
		if err := os.Remove(symlinkPath); err != nil {
			return errors.Wrapf(err, "failed to remove existing symlink or file at %s", symlinkPath)
		}
	}

	// Use os.Symlink to create the symlink with the calculated relative path
	if err := os.Symlink(resultRelativeSymlinkPath, symlinkPath); err != nil {
		return errors.Wrapf(err, "failed to create symlink from %s to %s", resultRelativeSymlinkPath, symlinkPath)
	}

	return nil
}

// CopyFolder recursively copies directory and all its contents from sourceDir to targetDir.
func CopyFolder(fs afero.Fs, sourceDir, targetDir string) error {
	return afero.Walk(fs, sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return errors.Wrapf(err, "failed to determine relative path for %s", path)
		}

		// Define the target path by joining targetDir with the relative path
		destPath := filepath.Join(targetDir, relPath)

		if info.IsDir() {
			return fs.MkdirAll(destPath, 0o755)
		}

		srcFile, err := fs.Open(path)
		if err != nil {
			return errors.Wrapf(err, "failed to open source file %s", path)
		}

		destFile, err := fs.Create(destPath)
		if err != nil {
			return errors.Wrapf(err, "failed to create destination file %s", destPath)
		}

		_, err = io.Copy(destFile, srcFile)
		if err != nil {
			return errors.Wrapf(err, "failed to copy file from %s to %s", path, destPath)
		}

		return nil
	})
}

// CopyFileIfExists copies a file from src to dst if the src file exists.
func CopyFileIfExists(fs afero.Fs, src, dst string) error {
	exists, err := afero.Exists(fs, src)
	if err != nil {
		return err
	}

	if !exists {
		return nil // Skip if the file does not exist
	}

	// Copy the file
	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open source file %s", src)
	}

	destFile, err := fs.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create destination file %s", dst)
	}

	_, err = io.Copy(destFile, srcFile)
	if err != nil {
		return errors.Wrapf(err, "failed to copy file from %s to %s", src, dst)
	}

	return nil
}
