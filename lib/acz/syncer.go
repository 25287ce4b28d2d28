// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/provision/lib/blobcache"
	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/provisionerr"
	"github.com/bureau-foundation/provision/lib/serverinfo"
)

// Options configures a Syncer.
type Options struct {
	// Cache is the blob store. Required.
	Cache *blobcache.Cache

	// Client sends the manifest GET and the OPTIONS negotiation with
	// retry. Batch POSTs use its underlying http.Client directly:
	// they are not idempotent from the cache's point of view and a
	// failed batch fails the sync. Required.
	Client *netutil.Client

	// UserAgent is set on batch POSTs.
	UserAgent string

	// Concurrency is the maximum number of download workers. Zero
	// means DefaultConcurrency.
	Concurrency int

	// BatchSize fixes the number of indices per POST. Zero derives it
	// from the number of missing blobs.
	BatchSize int

	// Reporter receives stage and byte progress. Nil discards.
	Reporter progress.Reporter

	// Clock drives the progress sampler. Nil means clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Syncer populates the blob cache from a server manifest and builds a
// content archive from it.
type Syncer struct {
	options Options
}

// NewSyncer returns a Syncer. Options.Cache and Options.Client must
// be set.
func NewSyncer(options Options) *Syncer {
	if options.Reporter == nil {
		options.Reporter = progress.Nop()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Syncer{options: options}
}

// Result summarizes a completed sync.
type Result struct {
	// ManifestHash is the upper-case hex BLAKE2b-256 of the manifest.
	ManifestHash string

	// Entries is the number of manifest paths; UniqueBlobs the number
	// of distinct hashes among them.
	Entries     int
	UniqueBlobs int

	// DownloadedBlobs is how many blobs were requested from the
	// server, in Batches POSTs totalling Bytes decoded bytes.
	DownloadedBlobs int
	Batches         int
	Bytes           int64
}

// Sync makes every blob in the build's manifest present in the cache
// and writes a ZIP containing all manifest paths to outZip.
func (s *Syncer) Sync(ctx context.Context, build *serverinfo.BuildDescriptor, outZip string) (*Result, error) {
	manifestURL := strings.TrimSpace(build.ManifestURL)
	downloadURL := strings.TrimSpace(build.ManifestDownloadURL)
	if manifestURL == "" || downloadURL == "" {
		return nil, fmt.Errorf("incremental sync needs manifest_url and manifest_download_url: %w",
			provisionerr.ErrMissingManifestFields)
	}
	logger := s.options.Logger.With("manifest_url", provisionerr.RedactURL(manifestURL))
	started := s.options.Clock.Now()

	manifest, err := s.FetchManifest(ctx, manifestURL, build.ManifestHash)
	if err != nil {
		return nil, err
	}
	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}

	unique, paths := manifest.Deduplicate()
	result := &Result{
		ManifestHash: manifest.HashHex(),
		Entries:      len(manifest.Entries),
		UniqueBlobs:  len(unique),
	}

	s.options.Reporter.Stage(progress.StageCheckCache, "")
	var missing []int32
	for _, blob := range unique {
		if !s.options.Cache.Exists(blob.Hash) {
			missing = append(missing, blob.Index)
		}
	}
	result.DownloadedBlobs = len(missing)

	if len(missing) > 0 {
		if err := negotiate(ctx, s.options.Client, downloadURL); err != nil {
			return nil, err
		}
		bytes, batches, err := s.download(ctx, downloadURL, manifest.Entries, missing)
		result.Bytes = bytes
		result.Batches = batches
		if err != nil {
			return nil, err
		}
	}

	s.options.Reporter.Stage(progress.StageAssembleArchive, "")
	if err := assembleArchive(ctx, s.options.Cache, unique, paths, outZip); err != nil {
		return nil, err
	}
	s.options.Reporter.Stage(progress.StageContentAvailable, result.ManifestHash)

	logger.Info("content synchronized",
		"manifest_hash", result.ManifestHash,
		"entries", result.Entries,
		"unique_blobs", result.UniqueBlobs,
		"downloaded_blobs", result.DownloadedBlobs,
		"batches", result.Batches,
		"bytes", result.Bytes,
		"duration", s.options.Clock.Now().Sub(started).Round(time.Millisecond),
	)
	return result, nil
}

func (s *Syncer) download(ctx context.Context, downloadURL string, entries []Entry, missing []int32) (int64, int, error) {
	batches, workers := planBatches(missing, s.options.Concurrency, s.options.BatchSize)
	s.options.Reporter.Stage(progress.StageDownloadBlobs, fmt.Sprintf("%d blobs", len(missing)))
	s.options.Logger.Debug("downloading missing blobs",
		"blobs", len(missing),
		"batches", len(batches),
		"workers", workers,
	)

	aggregator := progress.StartAggregator(s.options.Clock, progress.DefaultInterval,
		s.options.Reporter, progress.StageDownloadBlobs, 0)
	defer aggregator.Stop()

	worker := &downloader{
		httpClient:  s.options.Client.HTTPClient(),
		userAgent:   s.options.UserAgent,
		downloadURL: downloadURL,
		entries:     entries,
		cache:       s.options.Cache,
		aggregator:  aggregator,
		logger:      s.options.Logger,
	}
	err := worker.run(ctx, batches, workers)
	return aggregator.Total(), len(batches), err
}

// FetchManifest downloads, hashes, and parses a manifest. When
// expectedHash is non-empty the manifest's BLAKE2b-256 must match it
// (case-insensitive hex) or the error wraps
// provisionerr.ErrHashMismatch.
func (s *Syncer) FetchManifest(ctx context.Context, manifestURL, expectedHash string) (*Manifest, error) {
	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}
	s.options.Reporter.Stage(progress.StageFetchManifest, provisionerr.RedactURL(manifestURL))

	response, err := s.options.Client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Accept-Encoding", "zstd")
		return request, nil
	})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, provisionerr.New(provisionerr.Network, "download manifest", manifestURL, netutil.NewStatusError(response))
	}

	var body io.Reader = response.Body
	if isZstdEncoded(response.Header) {
		decoder, err := zstd.NewReader(response.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, provisionerr.Protocolf("download manifest", manifestURL, "opening zstd body: %w", err)
		}
		defer decoder.Close()
		body = decoder
	}
	data, err := netutil.ReadResponse(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, provisionerr.Cancel(ctx.Err())
		}
		if errors.Is(err, provisionerr.ErrResponseTooLarge) {
			return nil, provisionerr.Protocolf("download manifest", manifestURL, "reading body: %w", err)
		}
		return nil, provisionerr.Networkf("download manifest", manifestURL, "reading body: %w", err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, provisionerr.New(provisionerr.Protocol, "parse manifest", manifestURL, err)
	}

	if expected := strings.TrimSpace(expectedHash); expected != "" && !hashio.EqualHex(expected, manifest.HashHex()) {
		return nil, provisionerr.Integrityf("verify manifest", manifestURL,
			"expected manifest_hash %s, computed %s: %w", expected, manifest.HashHex(), provisionerr.ErrHashMismatch)
	}
	return manifest, nil
}
