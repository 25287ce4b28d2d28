// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// ContentFile is one file the fake server publishes.
type ContentFile struct {
	Path string
	Data []byte
}

// ContentServerOptions controls how a ContentServer answers.
type ContentServerOptions struct {
	// CompressManifest serves manifest.txt with Content-Encoding zstd.
	CompressManifest bool

	// CompressResponse zstd-compresses whole batch responses when the
	// request accepts it.
	CompressResponse bool

	// PrecompressBlobs sets the pre-compressed flag and sends each blob
	// zstd-compressed. Blobs shorter than 16 bytes are sent with a zero
	// compressed length and raw bytes, as real servers do for blobs
	// that do not shrink.
	PrecompressBlobs bool

	// MinProtocol and MaxProtocol are advertised on OPTIONS. Zero
	// means 1.
	MinProtocol, MaxProtocol int

	// ZipStatus, when non-zero, replaces the client.zip response with
	// an empty response of that status.
	ZipStatus int

	// CorruptIndex flips the first byte of the blob at that manifest
	// index in every batch response. Negative disables.
	CorruptIndex int

	// BeforeBatch runs at the start of every POST, before any byte is
	// written. Tests use it to stall or cancel mid-download.
	BeforeBatch func()
}

// ContentServer is an httptest server publishing a fixed file set as
// a monolithic client.zip, a manifest, and a blob download endpoint.
type ContentServer struct {
	*httptest.Server

	// Manifest is the exact manifest.txt body (before any transfer
	// compression).
	Manifest []byte

	// ManifestHash is the upper-case hex BLAKE2b-256 of Manifest.
	ManifestHash string

	// Zip is the monolithic archive body and ZipHash its upper-case
	// hex SHA-256.
	Zip     []byte
	ZipHash string

	files   []ContentFile
	options ContentServerOptions

	mu       sync.Mutex
	requests map[string]int
	batches  [][]int32
}

// ContentManifestHeader is the first line of every manifest the fake
// server emits.
const ContentManifestHeader = "Robust Content Manifest 1"

// NewContentServer starts a server publishing files. It is closed
// when the test ends.
func NewContentServer(t *testing.T, files []ContentFile, options ContentServerOptions) *ContentServer {
	t.Helper()
	if options.MinProtocol == 0 {
		options.MinProtocol = 1
	}
	if options.MaxProtocol == 0 {
		options.MaxProtocol = 1
	}

	server := &ContentServer{
		files:    files,
		options:  options,
		requests: make(map[string]int),
	}

	var manifest strings.Builder
	manifest.WriteString(ContentManifestHeader)
	manifest.WriteString("\n")
	for _, file := range files {
		sum := blake2b.Sum256(file.Data)
		manifest.WriteString(strings.ToUpper(hex.EncodeToString(sum[:])))
		manifest.WriteString(" ")
		manifest.WriteString(file.Path)
		manifest.WriteString("\n")
	}
	server.Manifest = []byte(manifest.String())
	manifestSum := blake2b.Sum256(server.Manifest)
	server.ManifestHash = strings.ToUpper(hex.EncodeToString(manifestSum[:]))

	var archive bytes.Buffer
	writer := zip.NewWriter(&archive)
	for _, file := range files {
		entry, err := writer.CreateHeader(&zip.FileHeader{Name: file.Path, Method: zip.Store})
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", file.Path, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			t.Fatalf("writing zip entry %s: %v", file.Path, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	server.Zip = archive.Bytes()
	zipSum := sha256.Sum256(server.Zip)
	server.ZipHash = strings.ToUpper(hex.EncodeToString(zipSum[:]))

	mux := http.NewServeMux()
	mux.HandleFunc("/client.zip", server.serveZip)
	mux.HandleFunc("/manifest.txt", server.serveManifest)
	mux.HandleFunc("/download", server.serveDownload)
	server.Server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// ZipURL, ManifestURL, and DownloadURL are the published endpoints.
func (s *ContentServer) ZipURL() string      { return s.URL + "/client.zip" }
func (s *ContentServer) ManifestURL() string { return s.URL + "/manifest.txt" }
func (s *ContentServer) DownloadURL() string { return s.URL + "/download" }

// Requests returns the number of requests seen for "METHOD /path".
func (s *ContentServer) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

// TotalRequests returns the number of requests of any kind.
func (s *ContentServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, count := range s.requests {
		total += count
	}
	return total
}

// Batches returns the index lists of every POST received, in arrival
// order.
func (s *ContentServer) Batches() [][]int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := make([][]int32, len(s.batches))
	copy(batches, s.batches)
	return batches
}

func (s *ContentServer) record(request *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[request.Method+" "+request.URL.Path]++
}

func (s *ContentServer) serveZip(w http.ResponseWriter, request *http.Request) {
	s.record(request)
	if s.options.ZipStatus != 0 {
		w.Header().Set("Server", "fake-cdn")
		if s.options.ZipStatus == http.StatusUnauthorized || s.options.ZipStatus == http.StatusForbidden {
			w.Header().Set("WWW-Authenticate", `Bearer realm="content"`)
		}
		w.WriteHeader(s.options.ZipStatus)
		io.WriteString(w, "access denied")
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(s.Zip)))
	w.Write(s.Zip)
}

func (s *ContentServer) serveManifest(w http.ResponseWriter, request *http.Request) {
	s.record(request)
	if s.options.CompressManifest {
		w.Header().Set("Content-Encoding", "zstd")
		w.Write(compressZstd(s.Manifest))
		return
	}
	w.Write(s.Manifest)
}

func (s *ContentServer) serveDownload(w http.ResponseWriter, request *http.Request) {
	s.record(request)
	switch request.Method {
	case http.MethodOptions:
		w.Header().Set("X-Robust-Download-Min-Protocol", strconv.Itoa(s.options.MinProtocol))
		w.Header().Set("X-Robust-Download-Max-Protocol", strconv.Itoa(s.options.MaxProtocol))
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.serveBatch(w, request)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *ContentServer) serveBatch(w http.ResponseWriter, request *http.Request) {
	if request.Header.Get("X-Robust-Download-Protocol") == "" {
		http.Error(w, "missing protocol header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(request.Body)
	if err != nil || len(body)%4 != 0 {
		http.Error(w, "bad index body", http.StatusBadRequest)
		return
	}
	indices := make([]int32, len(body)/4)
	for i := range indices {
		indices[i] = int32(binary.LittleEndian.Uint32(body[i*4:]))
	}
	s.mu.Lock()
	s.batches = append(s.batches, indices)
	s.mu.Unlock()

	if s.options.BeforeBatch != nil {
		s.options.BeforeBatch()
	}

	var response bytes.Buffer
	var flags uint32
	if s.options.PrecompressBlobs {
		flags |= 1
	}
	binary.Write(&response, binary.LittleEndian, flags)
	for _, index := range indices {
		if index < 0 || int(index) >= len(s.files) {
			http.Error(w, "index out of range", http.StatusBadRequest)
			return
		}
		data := bytes.Clone(s.files[index].Data)
		if int(index) == s.options.CorruptIndex && len(data) > 0 {
			data[0] ^= 0xff
		}
		binary.Write(&response, binary.LittleEndian, int32(len(data)))
		if !s.options.PrecompressBlobs {
			response.Write(data)
			continue
		}
		if len(data) < 16 {
			binary.Write(&response, binary.LittleEndian, int32(0))
			response.Write(data)
			continue
		}
		compressed := compressZstd(data)
		binary.Write(&response, binary.LittleEndian, int32(len(compressed)))
		response.Write(compressed)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if s.options.CompressResponse && strings.Contains(request.Header.Get("Accept-Encoding"), "zstd") {
		w.Header().Set("Content-Encoding", "zstd")
		w.Write(compressZstd(response.Bytes()))
		return
	}
	w.Write(response.Bytes())
}

func compressZstd(data []byte) []byte {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		panic("testutil: creating zstd encoder: " + err.Error())
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil)
}
