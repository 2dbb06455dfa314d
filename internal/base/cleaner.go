// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"os"
	"path/filepath"
)

// Cleaner disposes of superseded pack files once a repack has fully
// subsumed them.
type Cleaner interface {
	Clean(fileType FileType, path string) error
}

// DeleteCleaner deletes the file.
type DeleteCleaner struct{}

// Clean removes the file.
func (DeleteCleaner) Clean(fileType FileType, path string) error {
	return os.Remove(path)
}

func (DeleteCleaner) String() string {
	return "delete"
}

// ArchiveCleaner moves the file into an archive subdirectory instead of
// deleting it.
type ArchiveCleaner struct{}

// Clean archives the file.
func (ArchiveCleaner) Clean(fileType FileType, path string) error {
	destDir := filepath.Join(filepath.Dir(path), "archive")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(destDir, filepath.Base(path)))
}

func (ArchiveCleaner) String() string {
	return "archive"
}
