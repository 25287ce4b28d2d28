// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"


	"github.com/bureau-foundation/provision/lib/atomicfile"
	"github.com/bureau-foundation/provision/lib/blobcache"
	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

const (
	zipCopyBufferSize = 256 * 1024

	// sharedBlobReadLimit is the largest blob read into memory once
	// when several paths share it.
	sharedBlobReadLimit = 4 * 1024 * 1024
)

// assembleArchive writes every manifest path into a ZIP at outPath,
// reading blob bytes from cache. Entries are stored, not deflated, in
// manifest order of first occurrence. The archive appears at outPath
// atomically; on failure outPath is untouched.
func assembleArchive(ctx context.Context, cache *blobcache.Cache, unique []UniqueBlob, paths map[hashio.Digest][]string, outPath string) error {
	directory := filepath.Dir(outPath)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return provisionerr.CacheIOf("create archive directory", directory, err)
	}
	pending, err := atomicfile.Create(outPath)
	if err != nil {
		return provisionerr.CacheIOf("create temporary archive", outPath, err)
	}
	defer pending.Cleanup()
	if err := pending.Chmod(0o644); err != nil {
		return provisionerr.CacheIOf("chmod temporary archive", pending.Name(), err)
	}

	buffered := bufio.NewWriterSize(pending, zipCopyBufferSize)
	archive := zip.NewWriter(buffered)
	copyBuffer := make([]byte, zipCopyBufferSize)

	for _, blob := range unique {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return err
		}
		if err := writeBlobEntries(ctx, archive, cache, blob.Hash, paths[blob.Hash], copyBuffer); err != nil {
			return err
		}
	}

	if err := archive.Close(); err != nil {
		return provisionerr.CacheIOf("finish archive", outPath, err)
	}
	if err := buffered.Flush(); err != nil {
		return provisionerr.CacheIOf("flush archive", outPath, err)
	}
	if err := pending.Commit(); err != nil {
		return provisionerr.CacheIOf("replace archive", outPath, err)
	}
	return nil
}

// writeBlobEntries writes one blob under each of its paths.
func writeBlobEntries(ctx context.Context, archive *zip.Writer, cache *blobcache.Cache, hash hashio.Digest, names []string, copyBuffer []byte) error {
	file, err := cache.Open(hash)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return provisionerr.CacheIOf("stat blob", file.Name(), err)
	}
	size := info.Size()

	if len(names) > 1 && size <= sharedBlobReadLimit {
		data, err := io.ReadAll(file)
		if err != nil {
			return provisionerr.CacheIOf("read blob", file.Name(), err)
		}
		for _, name := range names {
			if err := provisionerr.CheckContext(ctx); err != nil {
				return err
			}
			entry, err := archive.CreateHeader(storedHeader(name))
			if err != nil {
				return fmt.Errorf("creating archive entry %s: %w", name, err)
			}
			if _, err := entry.Write(data); err != nil {
				return fmt.Errorf("writing archive entry %s: %w", name, err)
			}
		}
		return nil
	}

	for _, name := range names {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return provisionerr.CacheIOf("seek blob", file.Name(), err)
		}
		entry, err := archive.CreateHeader(storedHeader(name))
		if err != nil {
			return fmt.Errorf("creating archive entry %s: %w", name, err)
		}
		written, err := io.CopyBuffer(entry, io.LimitReader(file, size), copyBuffer)
		if err != nil {
			return fmt.Errorf("writing archive entry %s: %w", name, err)
		}
		if written != size {
			return provisionerr.CacheIOf("read blob", file.Name(),
				fmt.Errorf("blob shrank to %d of %d bytes: %w", written, size, provisionerr.ErrShortRead))
		}
	}
	return nil
}

func storedHeader(name string) *zip.FileHeader {
	return &zip.FileHeader{
		Name:   strings.ReplaceAll(name, `\`, "/"),
		Method: zip.Store,
	}
}
