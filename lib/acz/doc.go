// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package acz synchronizes game content incrementally from a server's
// content manifest, and assembles the result into a ZIP archive.
//
// A content manifest is a text document:
//
//	Robust Content Manifest 1
//	<64 hex digits> <relative/path>
//	<64 hex digits> <relative/path>
//	...
//
// Each hash is the BLAKE2b-256 of the file's bytes. The manifest as a
// whole is identified by the BLAKE2b-256 of its raw bytes, which the
// server advertises as manifest_hash; a mismatch means the server and
// CDN disagree and sync fails before anything is downloaded.
//
// Entries are deduplicated by hash. The server addresses blobs by the
// 0-based line index of their first occurrence in the manifest, so
// only those indices are ever requested, and only for hashes the local
// [blobcache.Cache] does not already hold.
//
// # Download protocol
//
// Before the first batch, an OPTIONS request to the download endpoint
// must return X-Robust-Download-Min-Protocol and
// X-Robust-Download-Max-Protocol headers bracketing [ProtocolVersion].
// Each batch is then a POST whose body is the requested indices as
// little-endian int32 values. The response (optionally zstd
// Content-Encoding as a whole) is:
//
//	int32 flags                       bit 0: blobs are pre-compressed
//	per requested index, in order:
//	  int32 uncompressed length
//	  [int32 compressed length]       only when pre-compressed
//	  bytes                           zstd stream if compressed length > 0,
//	                                  otherwise raw uncompressed bytes
//
// Every blob is hashed while it streams to a temporary file and is
// renamed into the cache only when its length and digest match. Blobs
// another process committed in the meantime are read and dropped so
// the response framing stays aligned.
//
// # Concurrency
//
// Batches are spread over a bounded worker pool that pulls from one
// shared FIFO queue. The first worker error sets an abort flag; other
// workers finish the batch they hold and stop. Worker panics are
// recovered into errors. Byte progress from all workers feeds one
// [progress.Aggregator].
//
// # Assembly
//
// Once every blob is cached, [Syncer.Sync] writes a ZIP with one
// stored (uncompressed) entry per manifest path, in manifest order.
// Paths that share a hash reuse one open blob; blobs up to 4 MiB
// shared by several paths are read into memory once.
package acz
