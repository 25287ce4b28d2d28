// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enginebuild

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"

	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

func TestResolverFallsBackToSecondMirror(t *testing.T) {
	tests := []struct {
		name    string
		primary func(*engineServer)
	}{
		{"server error", func(s *engineServer) { s.setManifestStatus(http.StatusServiceUnavailable) }},
		{"malformed document", func(s *engineServer) {
			s.mu.Lock()
			s.manifestBody = `{"1.0": `
			s.mu.Unlock()
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			primary := newEngineServer(t)
			test.primary(primary)
			secondary := newEngineServer(t)
			secondary.setManifest(t, map[string]any{"1.0": platformEntry("https://cdn.example/e.zip", []byte("engine"))})

			resolver := newTestResolver(noRetryClient(), primary.URL+"/manifest.json", secondary.URL+"/manifest.json")
			build, err := resolver.Resolve(context.Background(), "1.0")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if build.URL != "https://cdn.example/e.zip" || build.RID != "linux-x64" {
				t.Errorf("Resolve = %+v", build)
			}
			if primary.count("/manifest.json") != 1 || secondary.count("/manifest.json") != 1 {
				t.Errorf("manifest requests: primary %d, secondary %d",
					primary.count("/manifest.json"), secondary.count("/manifest.json"))
			}
		})
	}
}

func TestResolverAllMirrorsFail(t *testing.T) {
	primary := newEngineServer(t)
	primary.setManifestStatus(http.StatusForbidden)
	secondary := newEngineServer(t)
	secondary.Close()

	resolver := newTestResolver(noRetryClient(), primary.URL+"/manifest.json", secondary.URL+"/manifest.json")
	_, err := resolver.Resolve(context.Background(), "1.0")
	if !errors.Is(err, provisionerr.ErrManifestUnavailable) {
		t.Fatalf("Resolve = %v, want ErrManifestUnavailable", err)
	}
	if provisionerr.KindOf(err) != provisionerr.Network {
		t.Errorf("KindOf = %v, want Network", provisionerr.KindOf(err))
	}
	if netutil.StatusCodeOf(err) != http.StatusForbidden {
		t.Errorf("StatusCodeOf = %d, want the primary mirror's 403", netutil.StatusCodeOf(err))
	}
}

func TestResolverCancelled(t *testing.T) {
	server := newEngineServer(t)
	server.setManifest(t, map[string]any{"1.0": platformEntry("u", nil)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestResolver(noRetryClient(), server.URL+"/manifest.json").Resolve(ctx, "1.0")
	if !provisionerr.IsCancelled(err) {
		t.Fatalf("Resolve = %v, want cancelled", err)
	}
	if server.count("/manifest.json") != 0 {
		t.Error("cancelled resolve still fetched the manifest")
	}
}

func TestResolverDefaults(t *testing.T) {
	resolver := NewResolver(ResolverOptions{Client: noRetryClient()})
	if !slices.Equal(resolver.manifestURLs, DefaultManifestURLs) {
		t.Errorf("manifest URLs = %v", resolver.manifestURLs)
	}
	if !slices.Equal(resolver.Candidates(), RIDCandidates(CurrentHost())) {
		t.Errorf("candidates = %v", resolver.Candidates())
	}
}
