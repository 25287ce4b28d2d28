// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enginebuild

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// maxRedirects bounds a redirect chain. Real manifests redirect at
// most a couple of hops.
const maxRedirects = 16

// Build is one downloadable engine archive.
type Build struct {
	URL       string `json:"url"`
	SHA256    string `json:"sha256"`
	Signature string `json:"sig"`
}

// Platform pairs a runtime identifier with its build.
type Platform struct {
	RID   string
	Build Build
}

// Platforms is the per-RID build table of a version, in the order the
// manifest lists it.
type Platforms []Platform

// UnmarshalJSON decodes a JSON object keyed by RID, preserving key
// order so the first-key fallback in Select is reproducible for a
// given document.
func (p *Platforms) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("platforms: expected object, got %v", token)
	}
	var platforms Platforms
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		rid, ok := token.(string)
		if !ok {
			return fmt.Errorf("platforms: expected RID key, got %v", token)
		}
		var build Build
		if err := decoder.Decode(&build); err != nil {
			return fmt.Errorf("platforms: build %q: %w", rid, err)
		}
		platforms = append(platforms, Platform{RID: rid, Build: build})
	}
	if _, err := decoder.Token(); err != nil {
		return err
	}
	*p = platforms
	return nil
}

// Lookup returns the platform whose RID equals rid case-insensitively.
func (p Platforms) Lookup(rid string) (Platform, bool) {
	for _, platform := range p {
		if strings.EqualFold(platform.RID, rid) {
			return platform, true
		}
	}
	return Platform{}, false
}

// Select picks the first candidate present in p. When none is, it
// falls back to the first platform in manifest order. ok is false
// only when p is empty.
func (p Platforms) Select(candidates []string) (platform Platform, ok bool) {
	for _, candidate := range candidates {
		if platform, found := p.Lookup(candidate); found {
			return platform, true
		}
	}
	if len(p) == 0 {
		return Platform{}, false
	}
	return p[0], true
}

// VersionInfo is a manifest entry for one engine version.
type VersionInfo struct {
	Insecure  bool      `json:"insecure"`
	Redirect  string    `json:"redirect"`
	Platforms Platforms `json:"platforms"`
}

// Manifest maps engine version strings to their entries.
type Manifest map[string]*VersionInfo

// ParseManifest decodes an engine build manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding engine manifest: %w", err)
	}
	if manifest == nil {
		return nil, fmt.Errorf("decoding engine manifest: document is null")
	}
	return manifest, nil
}

// FollowRedirects walks the redirect chain starting at version and
// returns the terminal version and its entry. Every hop must exist in
// the manifest; a chain that revisits a version or exceeds
// maxRedirects hops fails with provisionerr.ErrRedirectLoop.
func (m Manifest) FollowRedirects(version string) (string, *VersionInfo, error) {
	info, ok := m[version]
	if !ok || info == nil {
		return "", nil, fmt.Errorf("version %q: %w", version, provisionerr.ErrUnknownVersion)
	}
	visited := map[string]bool{version: true}
	for hops := 0; info.Redirect != ""; hops++ {
		next := info.Redirect
		if visited[next] || hops >= maxRedirects {
			return "", nil, fmt.Errorf("version %q redirects to %q after %d hops: %w",
				version, next, hops+1, provisionerr.ErrRedirectLoop)
		}
		visited[next] = true
		info, ok = m[next]
		if !ok || info == nil {
			return "", nil, fmt.Errorf("version %q redirects to %q: %w", version, next, provisionerr.ErrUnknownVersion)
		}
		version = next
	}
	return version, info, nil
}

// Resolve follows redirects from requested, rejects insecure versions,
// and selects a build for the given RID candidates.
func (m Manifest) Resolve(requested string, candidates []string) (*ResolvedBuild, error) {
	resolved, info, err := m.FollowRedirects(requested)
	if err != nil {
		return nil, err
	}
	if info.Insecure {
		return nil, fmt.Errorf("version %q (resolved from %q): %w", resolved, requested, provisionerr.ErrInsecureVersion)
	}
	platform, ok := info.Platforms.Select(candidates)
	if !ok {
		return nil, fmt.Errorf("version %q has no platform builds: %w", resolved, provisionerr.ErrNoPlatformBuild)
	}
	return &ResolvedBuild{
		RequestedVersion: requested,
		ResolvedVersion:  resolved,
		RID:              platform.RID,
		URL:              platform.Build.URL,
		SHA256:           platform.Build.SHA256,
		Signature:        platform.Build.Signature,
	}, nil
}

// Latest returns the highest semantic version that is installable on a
// host with the given RID candidates: not insecure, not a redirect,
// and carrying a build for one of the candidates. Keys that are not
// semantic versions are ignored.
func (m Manifest) Latest(candidates []string) (string, error) {
	var (
		best    *semver.Version
		bestKey string
	)
	for key, info := range m {
		if info == nil || info.Insecure || info.Redirect != "" {
			continue
		}
		if !slices.ContainsFunc(candidates, func(rid string) bool {
			_, ok := info.Platforms.Lookup(rid)
			return ok
		}) {
			continue
		}
		parsed, err := semver.NewVersion(key)
		if err != nil {
			continue
		}
		if best == nil || parsed.GreaterThan(best) || (parsed.Equal(best) && key < bestKey) {
			best, bestKey = parsed, key
		}
	}
	if best == nil {
		return "", fmt.Errorf("no installable semantic version for %v: %w", candidates, provisionerr.ErrUnknownVersion)
	}
	return bestKey, nil
}

// Versions returns the manifest keys newest first: semantic versions
// in descending order, then the remaining keys lexically.
func (m Manifest) Versions() []string {
	type keyed struct {
		key     string
		version *semver.Version
	}
	entries := make([]keyed, 0, len(m))
	for key := range m {
		parsed, _ := semver.NewVersion(key)
		entries = append(entries, keyed{key: key, version: parsed})
	}
	slices.SortFunc(entries, func(a, b keyed) int {
		switch {
		case a.version != nil && b.version != nil:
			if c := b.version.Compare(a.version); c != 0 {
				return c
			}
		case a.version != nil:
			return -1
		case b.version != nil:
			return 1
		}
		return strings.Compare(a.key, b.key)
	})
	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.key
	}
	return keys
}
