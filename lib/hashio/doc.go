// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashio provides streaming I/O with incremental hash
// accumulation. It is the leaf utility under every download path in
// the provisioning pipeline.
//
// Two hash families are in play:
//
//   - SHA-256 for monolithic archives (engine builds and content ZIPs),
//     whose expected digests are published as hex by the engine
//     manifest and the server's build descriptor. [SHA256File] streams
//     a file through the hash with constant memory.
//
//   - BLAKE2b-256 (unkeyed) for the incremental content manifest and
//     every content blob. [NewBLAKE2b256] returns the hasher;
//     [SumBLAKE2b256] hashes a byte slice.
//
// [CopyExact] is the length-exact copy used for blob payloads: it
// copies exactly n bytes, feeds every byte through an optional hasher,
// checks the context once per internal chunk, and fails with
// provisionerr.ErrShortRead if the source ends early. [Discard] is the
// same loop without a destination, used to keep response framing
// intact when a blob is skipped.
//
// Digest text is compared with [EqualHex], which is case-insensitive
// and ignores surrounding whitespace: servers publish both upper and
// lower case hex.
package hashio
