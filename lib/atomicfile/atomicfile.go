// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files that appear at their final path
// complete or not at all.
//
// [Create] opens a temporary file in the target's directory. Writes go
// to the temporary file; [File.Commit] syncs, closes, and renames it
// over the target, and [File.Cleanup] removes it if Commit was never
// reached. The usual shape is:
//
//	file, err := atomicfile.Create(path)
//	if err != nil {
//		return err
//	}
//	defer file.Cleanup()
//	// write to file
//	return file.Commit()
//
// On unix the work is done by github.com/google/renameio. That package
// does not build on Windows, where a CreateTemp/Sync/Rename sequence
// is used instead; os.Rename replaces an existing target there too.
package atomicfile

import (
	"os"
)

// File is a pending replacement of a target path.
type File struct {
	*os.File

	commit  func() error
	cleanup func() error
}

// Create opens a temporary file beside path. The parent directory
// must exist.
func Create(path string) (*File, error) {
	return create(path)
}

// Commit makes the written content visible at the target path.
func (f *File) Commit() error { return f.commit() }

// Cleanup closes and removes the temporary file. It is a no-op after a
// successful Commit, so it is safe to defer.
func (f *File) Cleanup() error { return f.cleanup() }

// WriteFile atomically replaces path with data at mode perm.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	file, err := Create(path)
	if err != nil {
		return err
	}
	defer file.Cleanup()
	if err := file.Chmod(perm); err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		return err
	}
	return file.Commit()
}
