// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for provisioning
// packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used; everything else runs on lib/clock's fake clock.
//
// [ContentServer] is an httptest server that speaks the content
// distribution protocol a game server exposes: a monolithic
// client.zip, the text manifest, and the batched blob download
// endpoint (OPTIONS negotiation and POST batches, with optional zstd
// at both the body and per-blob level). It records every request so
// tests can assert on exactly which indices were fetched.
//
// [WriteFile], [ZipContents], and [RequireNoTempFiles] cover the
// filesystem side: seeding caches and checking that no temporary
// files survive a run.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
