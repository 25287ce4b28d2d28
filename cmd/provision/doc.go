// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Provision installs game client assets: signed engine builds from the
// engine build manifest and server content archives, downloaded whole
// or synchronized incrementally through a local blob cache.
//
// Usage:
//
//	provision fetch ss14://game.example.org
//	provision engine install 210.1.0
//	provision content --descriptor build.jsonc
//	provision verify --archive engine.zip --signature <hex>
//
// Interrupting the process cancels in-flight transfers; partially
// written files are removed and completed cache entries are kept.
package main
