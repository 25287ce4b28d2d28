// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobcache is the content-addressed store behind incremental
// content sync.
//
// Blobs are keyed by their BLAKE2b-256 digest and stored at
//
//	<data>/content_blob_cache/blake2b-256/<first 2 hex chars>/<64 hex chars>.blob
//
// A blob is never modified once visible. Every write goes to a
// uniquely named temporary file in the destination's own directory
// ("<name>.tmp.<uuid>") and is renamed into place only after its
// length and digest have been checked, so a reader that sees the final
// path always sees a complete, verified blob. Concurrent writers of
// the same digest are harmless: the first rename wins and later
// writers discard their temporary file without error.
//
// There is no delete operation. Clearing the cache means removing the
// whole directory, which is outside this package.
package blobcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

const (
	// Directory is the cache directory under the data directory.
	Directory = "content_blob_cache"

	// Algorithm names the digest subdirectory.
	Algorithm = "blake2b-256"

	blobSuffix = ".blob"
	tempInfix  = ".tmp."
)

// Cache is a blob store rooted at a single directory.
type Cache struct {
	root string
}

// New returns the cache under dataDir. Directories are created lazily
// by writers.
func New(dataDir string) *Cache {
	return &Cache{root: filepath.Join(dataDir, Directory, Algorithm)}
}

// Root returns the directory holding the shard subdirectories.
func (c *Cache) Root() string { return c.root }

// PathFor returns the deterministic path of the blob with digest hash.
func (c *Cache) PathFor(hash hashio.Digest) string {
	name := hash.String()
	return filepath.Join(c.root, name[:2], name+blobSuffix)
}

// Exists reports whether a committed blob with digest hash is present.
func (c *Cache) Exists(hash hashio.Digest) bool {
	info, err := os.Stat(c.PathFor(hash))
	return err == nil && info.Mode().IsRegular()
}

// Open opens the committed blob with digest hash for reading.
func (c *Cache) Open(hash hashio.Digest) (*os.File, error) {
	file, err := os.Open(c.PathFor(hash))
	if err != nil {
		return nil, provisionerr.CacheIOf("open blob", c.PathFor(hash), err)
	}
	return file, nil
}

// Put streams exactly size bytes from src into the cache under
// expected, verifying the BLAKE2b-256 digest on the way. src is always
// consumed to exactly size bytes unless reading fails or ctx is
// cancelled, so framed streams stay aligned. On a digest mismatch
// nothing becomes visible and the error wraps
// provisionerr.ErrHashMismatch. The returned bool is false when
// another writer committed the blob first.
func (c *Cache) Put(ctx context.Context, expected hashio.Digest, src io.Reader, size int64) (bool, error) {
	writer, err := c.Create(expected)
	if err != nil {
		return false, err
	}
	defer writer.Discard()

	hasher := hashio.NewBLAKE2b256()
	if _, err := hashio.CopyExact(ctx, writer, src, size, hasher); err != nil {
		return false, err
	}
	if actual := hashio.SumOf(hasher); actual != expected {
		return false, fmt.Errorf("blob %s: computed digest %s: %w", expected, actual, provisionerr.ErrHashMismatch)
	}
	return writer.Commit()
}

// Writer is an uncommitted blob. Exactly one of Commit or Discard
// takes effect; calling Discard after Commit is a no-op, so
// "defer writer.Discard()" is always safe.
type Writer struct {
	file      *os.File
	tempPath  string
	finalPath string
	finished  bool
}

// Create opens a temporary file next to the destination of hash.
func (c *Cache) Create(hash hashio.Digest) (*Writer, error) {
	finalPath := c.PathFor(hash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, provisionerr.CacheIOf("create blob shard directory", filepath.Dir(finalPath), err)
	}
	tempPath := finalPath + tempInfix + uuid.NewString()
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, provisionerr.CacheIOf("create temporary blob", tempPath, err)
	}
	return &Writer{file: file, tempPath: tempPath, finalPath: finalPath}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, errors.New("write to finished blob writer")
	}
	return w.file.Write(p)
}

// Commit closes the temporary file and renames it into place. If the
// destination already exists the temporary file is removed and Commit
// returns false with no error: the existing blob has the same digest
// and therefore the same bytes.
func (w *Writer) Commit() (bool, error) {
	if w.finished {
		return false, errors.New("blob writer already finished")
	}
	w.finished = true

	if err := w.file.Close(); err != nil {
		os.Remove(w.tempPath)
		return false, provisionerr.CacheIOf("close temporary blob", w.tempPath, err)
	}

	if _, err := os.Stat(w.finalPath); err == nil {
		os.Remove(w.tempPath)
		return false, nil
	}

	if err := os.Rename(w.tempPath, w.finalPath); err != nil {
		if _, statErr := os.Stat(w.finalPath); statErr == nil {
			os.Remove(w.tempPath)
			return false, nil
		}
		os.Remove(w.tempPath)
		return false, provisionerr.CacheIOf("rename blob", w.finalPath, err)
	}
	return true, nil
}

// Discard closes and removes the temporary file.
func (w *Writer) Discard() {
	if w.finished {
		return
	}
	w.finished = true
	w.file.Close()
	os.Remove(w.tempPath)
}
