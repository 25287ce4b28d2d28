// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

func hexOf(data string) string {
	return hashio.SumBLAKE2b256([]byte(data)).String()
}

func TestParseManifest(t *testing.T) {
	text := ManifestHeader + "\r\n" +
		strings.ToUpper(hexOf("alpha")) + " Resources/a.txt\r\n" +
		"\n" +
		hexOf("beta") + " Resources/with space.txt   \n" +
		hexOf("alpha") + " Resources\\b.txt\n"

	manifest, err := ParseManifest([]byte(text))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	wantPaths := []string{"Resources/a.txt", "Resources/with space.txt", `Resources\b.txt`}
	if len(manifest.Entries) != len(wantPaths) {
		t.Fatalf("got %d entries, want %d", len(manifest.Entries), len(wantPaths))
	}
	for i, want := range wantPaths {
		if manifest.Entries[i].Path != want {
			t.Errorf("entry %d path = %q, want %q", i, manifest.Entries[i].Path, want)
		}
	}
	if manifest.Entries[0].Hash != hashio.SumBLAKE2b256([]byte("alpha")) {
		t.Error("upper-case hash did not parse to the same digest")
	}
	if manifest.Hash != hashio.SumBLAKE2b256([]byte(text)) {
		t.Error("manifest hash is not the BLAKE2b-256 of the raw bytes")
	}
	if manifest.HashHex() != strings.ToUpper(manifest.HashHex()) {
		t.Errorf("HashHex = %q, want upper-case", manifest.HashHex())
	}
}

func TestParseManifestRejects(t *testing.T) {
	tests := map[string]string{
		"wrong header":    "Robust Content Manifest 2\n",
		"empty":           "",
		"no separator":    ManifestHeader + "\n" + hexOf("x") + "\n",
		"bad hex":         ManifestHeader + "\nzz" + hexOf("x")[2:] + " a.txt\n",
		"short hash":      ManifestHeader + "\n" + hexOf("x")[:62] + " a.txt\n",
		"header not first": "\n" + ManifestHeader + "\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(text))
			if !errors.Is(err, provisionerr.ErrManifestFormat) {
				t.Fatalf("error = %v, want ErrManifestFormat", err)
			}
			if provisionerr.KindOf(err) != provisionerr.Protocol {
				t.Errorf("KindOf = %v, want Protocol", provisionerr.KindOf(err))
			}
		})
	}
}

func TestDeduplicate(t *testing.T) {
	text := ManifestHeader + "\n" +
		hexOf("one") + " a.txt\n" +
		hexOf("one") + " b.txt\n" +
		hexOf("two") + " c.txt\n" +
		hexOf("one") + " d.txt\n"
	manifest, err := ParseManifest([]byte(text))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	unique, paths := manifest.Deduplicate()
	if len(unique) != 2 {
		t.Fatalf("got %d unique blobs, want 2", len(unique))
	}
	if unique[0].Index != 0 || unique[1].Index != 2 {
		t.Errorf("unique indices = %d, %d; want 0, 2", unique[0].Index, unique[1].Index)
	}
	if got := paths[unique[0].Hash]; strings.Join(got, ",") != "a.txt,b.txt,d.txt" {
		t.Errorf("paths for first hash = %v", got)
	}
}

// TestManifestProperties checks parsing and deduplication over
// generated manifests: the manifest hash depends only on the bytes,
// every path survives deduplication, and each unique blob sits at the
// first index carrying its hash.
func TestManifestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("deduplication preserves every path at first occurrence", prop.ForAll(
		func(contents []uint8) bool {
			var builder strings.Builder
			builder.WriteString(ManifestHeader + "\n")
			for i, content := range contents {
				// Eight distinct contents force plenty of collisions.
				fmt.Fprintf(&builder, "%s file%d.bin\n", hexOf(fmt.Sprint(content%8)), i)
			}
			data := []byte(builder.String())

			first, err := ParseManifest(data)
			if err != nil {
				return false
			}
			second, err := ParseManifest(data)
			if err != nil || first.Hash != second.Hash || first.Hash != hashio.SumBLAKE2b256(data) {
				return false
			}
			if len(first.Entries) != len(contents) {
				return false
			}

			unique, paths := first.Deduplicate()
			distinct := make(map[uint8]bool)
			for _, content := range contents {
				distinct[content%8] = true
			}
			if len(unique) != len(distinct) {
				return false
			}

			total := 0
			for _, group := range paths {
				total += len(group)
			}
			if total != len(contents) {
				return false
			}

			previous := int32(-1)
			for _, blob := range unique {
				if blob.Index <= previous || first.Entries[blob.Index].Hash != blob.Hash {
					return false
				}
				for earlier := range blob.Index {
					if first.Entries[earlier].Hash == blob.Hash {
						return false
					}
				}
				previous = blob.Index
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
