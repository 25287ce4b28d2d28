// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile writes data to path, creating parent directories.
func WriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// ZipContents opens the archive at path and returns every entry's
// bytes keyed by entry name. Fails the test if any entry is not
// stored uncompressed.
func ZipContents(t *testing.T, path string) map[string][]byte {
	t.Helper()
	reader, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening archive %s: %v", path, err)
	}
	defer reader.Close()

	contents := make(map[string][]byte, len(reader.File))
	for _, file := range reader.File {
		if file.Method != zip.Store {
			t.Fatalf("entry %s uses method %d, want stored", file.Name, file.Method)
		}
		entry, err := file.Open()
		if err != nil {
			t.Fatalf("opening entry %s: %v", file.Name, err)
		}
		data, err := io.ReadAll(entry)
		entry.Close()
		if err != nil {
			t.Fatalf("reading entry %s: %v", file.Name, err)
		}
		contents[file.Name] = data
	}
	return contents
}

// RequireNoTempFiles walks root and fails the test if any file name
// contains ".tmp".
func RequireNoTempFiles(t *testing.T, root string) {
	t.Helper()
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && strings.Contains(entry.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walking %s: %v", root, err)
	}
}
