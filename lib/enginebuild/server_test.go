// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enginebuild

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/provision/lib/download"
	"github.com/bureau-foundation/provision/lib/netutil"
)

// engineServer serves an engine manifest at /manifest.json and
// archives under /archives/.
type engineServer struct {
	*httptest.Server

	mu             sync.Mutex
	manifestStatus int
	manifestBody   string
	archives       map[string][][]byte
	requests       map[string]int
}

func newEngineServer(t *testing.T) *engineServer {
	t.Helper()
	server := &engineServer{
		manifestStatus: http.StatusOK,
		archives:       make(map[string][][]byte),
		requests:       make(map[string]int),
	}
	server.Server = httptest.NewServer(http.HandlerFunc(server.serve))
	t.Cleanup(server.Close)
	return server
}

func (s *engineServer) serve(w http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	s.requests[request.URL.Path]++
	status, body := s.manifestStatus, s.manifestBody
	responses := s.archives[request.URL.Path]
	var archive []byte
	if len(responses) > 0 {
		archive = responses[0]
		if len(responses) > 1 {
			s.archives[request.URL.Path] = responses[1:]
		}
	}
	s.mu.Unlock()

	switch {
	case request.URL.Path == "/manifest.json":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	case archive != nil:
		w.Write(archive)
	default:
		http.NotFound(w, request)
	}
}

// setManifest serves versions as the manifest document.
func (s *engineServer) setManifest(t *testing.T, versions map[string]any) {
	t.Helper()
	data, err := json.Marshal(versions)
	if err != nil {
		t.Fatalf("encoding manifest: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifestBody = string(data)
	s.manifestStatus = http.StatusOK
}

func (s *engineServer) setManifestStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifestStatus = status
}

// serveArchive queues bodies for path. The last body repeats.
func (s *engineServer) serveArchive(path string, bodies ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[path] = bodies
}

func (s *engineServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// platformEntry is a manifest version entry with a single linux-x64
// build.
func platformEntry(url string, archive []byte) map[string]any {
	return map[string]any{
		"insecure": false,
		"platforms": map[string]any{
			"linux-x64": map[string]string{"url": url, "sha256": sha256Hex(archive), "sig": "abcd"},
		},
	}
}

// noRetryClient fails fast on transient statuses so mirror tests do
// not wait on backoff.
func noRetryClient() *netutil.Client {
	return netutil.NewClient(nil, netutil.RetryOptions{MaxRetries: -1})
}

func newTestResolver(client *netutil.Client, urls ...string) *Resolver {
	return NewResolver(ResolverOptions{
		Client:       client,
		ManifestURLs: urls,
		Host:         Host{"linux", "amd64"},
	})
}

func newTestInstaller(t *testing.T, dataDir string, server *engineServer) *Installer {
	t.Helper()
	client := noRetryClient()
	return NewInstaller(InstallerOptions{
		DataDir:    dataDir,
		Resolver:   newTestResolver(client, server.URL+"/manifest.json"),
		Downloader: download.New(download.Options{Client: client}),
	})
}
