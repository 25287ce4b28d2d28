// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package enginebuild resolves engine versions against the engine
// build manifest and installs the matching archive.
//
// The manifest is a JSON object keyed by version string:
//
//	{
//	  "0.20.0": {"redirect": "0.20.1"},
//	  "0.20.1": {
//	    "insecure": false,
//	    "platforms": {
//	      "win-x64":   {"url": "...", "sha256": "...", "sig": "..."},
//	      "linux-x64": {"url": "...", "sha256": "...", "sig": "..."}
//	    }
//	  }
//	}
//
// [Resolver] fetches it from an ordered mirror list, follows redirect
// chains to a terminal version, refuses insecure versions, and picks
// the platform build for the running host. [Installer] stores the
// archive at engines/<version>/engine.zip, checks its SHA-256, and
// downloads exactly once more on a mismatch. Signature verification
// is left to lib/signature so the caller decides whether a debug
// bypass applies.
package enginebuild
