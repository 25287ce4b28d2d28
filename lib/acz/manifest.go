// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// ManifestHeader is the first line of every supported manifest.
const ManifestHeader = "Robust Content Manifest 1"

// Entry is one manifest line.
type Entry struct {
	Path string
	Hash hashio.Digest
}

// Manifest is a parsed content manifest.
type Manifest struct {
	// Entries in manifest order. Entry i has protocol index i.
	Entries []Entry

	// Hash is the BLAKE2b-256 of the raw manifest bytes.
	Hash hashio.Digest
}

// HashHex returns the manifest hash as upper-case hex, the form
// servers advertise.
func (m *Manifest) HashHex() string {
	return strings.ToUpper(m.Hash.String())
}

// ParseManifest hashes and parses raw manifest bytes. Blank lines and
// trailing whitespace are ignored. Any other malformed line, a hash
// that is not 32 bytes, or a wrong header fails with
// provisionerr.ErrManifestFormat.
func ParseManifest(data []byte) (*Manifest, error) {
	manifest := &Manifest{Hash: hashio.SumBLAKE2b256(data)}

	lines := bytes.Split(data, []byte("\n"))
	if strings.TrimSpace(string(lines[0])) != ManifestHeader {
		return nil, fmt.Errorf("manifest header %q is not %q: %w",
			truncate(strings.TrimSpace(string(lines[0])), 64), ManifestHeader, provisionerr.ErrManifestFormat)
	}

	for number, raw := range lines[1:] {
		line := strings.TrimRight(string(raw), " \t\r\v\f")
		if line == "" {
			continue
		}
		hexHash, path, found := strings.Cut(line, " ")
		if !found {
			return nil, fmt.Errorf("manifest line %d has no separator: %w", number+2, provisionerr.ErrManifestFormat)
		}
		digest, err := hashio.ParseDigest(hexHash)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %v: %w", number+2, err, provisionerr.ErrManifestFormat)
		}
		manifest.Entries = append(manifest.Entries, Entry{Path: path, Hash: digest})
	}
	return manifest, nil
}

// UniqueBlob is the first occurrence of a hash in the manifest.
type UniqueBlob struct {
	Index int32
	Hash  hashio.Digest
}

// Deduplicate groups paths by hash. unique lists each distinct hash
// once, at the index of its first occurrence, in manifest order;
// paths maps every hash to all paths that carry it, in manifest order.
func (m *Manifest) Deduplicate() (unique []UniqueBlob, paths map[hashio.Digest][]string) {
	paths = make(map[hashio.Digest][]string)
	for index, entry := range m.Entries {
		if _, seen := paths[entry.Hash]; !seen {
			unique = append(unique, UniqueBlob{Index: int32(index), Hash: entry.Hash})
		}
		paths[entry.Hash] = append(paths[entry.Hash], entry.Path)
	}
	return unique, paths
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
