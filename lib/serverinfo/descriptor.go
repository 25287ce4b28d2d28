// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serverinfo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// BuildDescriptor is the build a server runs. URL and hash fields are
// optional; hashes are hex in either case.
type BuildDescriptor struct {
	// DownloadURL is the monolithic content archive.
	DownloadURL string `json:"download_url,omitempty"`

	// ManifestURL and ManifestDownloadURL are the incremental
	// content manifest and its blob download endpoint. Both are
	// needed for incremental sync.
	ManifestURL         string `json:"manifest_url,omitempty"`
	ManifestDownloadURL string `json:"manifest_download_url,omitempty"`

	EngineVersion string `json:"engine_version"`
	Version       string `json:"version"`
	ForkID        string `json:"fork_id"`

	// Hash is the SHA-256 of the monolithic archive.
	Hash string `json:"hash,omitempty"`

	// ManifestHash is the BLAKE2b-256 of the manifest bytes.
	ManifestHash string `json:"manifest_hash,omitempty"`

	// ACZ is set when the server builds its content on the fly and
	// serves the manifest itself.
	ACZ bool `json:"acz"`
}

// FillDefaults infers URLs the server left blank from its API base:
// client.zip, manifest.txt, and download. Explicit URLs are kept.
func (b *BuildDescriptor) FillDefaults(address *url.URL) error {
	if strings.TrimSpace(b.DownloadURL) == "" {
		zipURL, err := SelfHostedClientZipURL(address)
		if err != nil {
			return err
		}
		b.DownloadURL = zipURL
	}
	if strings.TrimSpace(b.ManifestURL) == "" {
		manifestURL, err := Endpoint(address, "manifest.txt")
		if err != nil {
			return err
		}
		b.ManifestURL = manifestURL
	}
	if strings.TrimSpace(b.ManifestDownloadURL) == "" {
		downloadURL, err := Endpoint(address, "download")
		if err != nil {
			return err
		}
		b.ManifestDownloadURL = downloadURL
	}
	return nil
}

// HasManifest reports whether both incremental sync URLs are set.
func (b *BuildDescriptor) HasManifest() bool {
	return strings.TrimSpace(b.ManifestURL) != "" && strings.TrimSpace(b.ManifestDownloadURL) != ""
}

// ContentKey returns the directory name identifying this build's
// content: the archive hash, else the manifest hash, else the content
// version, made filesystem-safe.
func (b *BuildDescriptor) ContentKey() string {
	for _, candidate := range []string{b.Hash, b.ManifestHash, b.Version} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return SanitizeKey(trimmed)
		}
	}
	return ""
}

// Validate checks that content is acquirable: a download URL or both
// manifest URLs, and a key to cache it under.
func (b *BuildDescriptor) Validate() error {
	if strings.TrimSpace(b.DownloadURL) == "" && !b.HasManifest() {
		return fmt.Errorf("build has neither download_url nor manifest_url and manifest_download_url: %w",
			provisionerr.ErrMissingManifestFields)
	}
	if b.ContentKey() == "" {
		return errors.New("build has no hash, manifest_hash, or version to key its content")
	}
	return nil
}

// SanitizeKey maps s to a single safe path component: ASCII letters,
// digits, '.', '_', and '-' are kept and everything else becomes '_'.
// The results "." and ".." are also replaced.
func SanitizeKey(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}
	result := builder.String()
	if result == "." || result == ".." {
		return strings.Repeat("_", len(result))
	}
	return result
}
