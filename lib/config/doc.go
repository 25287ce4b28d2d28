// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// provisioning tools.
//
// Configuration comes from at most one file, named by the --config
// flag or the PROVISION_CONFIG environment variable (the flag wins).
// There is no ~/.config discovery and no file search: with neither
// set, [Default] is used as is.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${PROVISION_DATA_DIR}, and ${VAR:-default} patterns are
// expanded.
//
// A small set of environment variables is applied after the file,
// for tuning without editing it:
//
//   - PROVISION_DATA_DIR replaces data_dir.
//   - PROVISION_ACZ_DOWNLOAD_CONCURRENCY and
//     PROVISION_ACZ_DOWNLOAD_BATCH_SIZE replace the blob downloader
//     settings when they hold a positive integer and are ignored
//     otherwise.
//
// Key exports:
//
//   - [Config] -- master struct with Engine, Download, and HTTP
//   - [Default] -- production defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other provisioning packages.
package config
