// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package atomicfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

func create(path string) (*File, error) {
	temp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, err
	}
	var closed, done bool
	return &File{
		File: temp,
		commit: func() error {
			if err := temp.Sync(); err != nil {
				return err
			}
			closed = true
			if err := temp.Close(); err != nil {
				return err
			}
			if err := os.Rename(temp.Name(), path); err != nil {
				return err
			}
			done = true
			return nil
		},
		cleanup: func() error {
			if done {
				return nil
			}
			var closeErr error
			if !closed {
				closeErr = temp.Close()
			}
			if err := os.Remove(temp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return closeErr
		},
	}, nil
}
