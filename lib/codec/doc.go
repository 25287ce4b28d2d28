// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration used for provisioning
// state files.
//
// Two formats meet at a clear boundary:
//
//   - JSON for external interfaces: engine build manifests, server
//     /info documents, build descriptor files, CLI --json output.
//   - CBOR for state this tool writes for itself: the overlay marker
//     beside a manifest-assembled client.zip and the engine install
//     record beside engine.zip.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical record always produces identical bytes.
//
// For records kept in files:
//
//	err := codec.WriteFile(path, record)
//	err = codec.ReadFile(path, &record)
//
// WriteFile replaces the destination atomically, so a reader sees the
// old record, the new record, or no record at all.
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type is only ever serialized as CBOR (marker
//     and install records).
//   - `json` tag: the type may be serialized as both JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as a fallback when `cbor`
//     tags are absent.
//
// Never use both tags on the same field.
package codec
