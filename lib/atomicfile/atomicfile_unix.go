// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package atomicfile

import (
	"path/filepath"

	"github.com/google/renameio"
)

func create(path string) (*File, error) {
	pending, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return nil, err
	}
	return &File{
		File:    pending.File,
		commit:  pending.CloseAtomicallyReplace,
		cleanup: pending.Cleanup,
	}, nil
}
