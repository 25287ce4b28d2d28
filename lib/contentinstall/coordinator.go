// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentinstall decides how a server's content archive is
// obtained and where it is cached.
//
// Two strategies produce a client.zip. The monolithic strategy
// downloads the archive the server names and checks it against the
// server's SHA-256. The incremental strategy (lib/acz) rebuilds an
// equivalent archive from a content manifest and the shared blob
// cache. It is used when the archive host rejects the request with
// 401 or 403 and the server publishes a manifest, or when the server
// publishes no archive URL at all.
//
// Layout under the data directory:
//
//	content/<key>/client.zip
//	content/<key>/client.zip.acz_overlay
//	content_overlay_cache/<manifest hash>/client.zip
//	content_overlay_cache/<manifest hash>/client.zip.acz_overlay
//
// The marker file records that the archive beside it was assembled
// from the manifest. Such an archive is not byte-identical to the
// monolithic one, so its SHA-256 is never checked against the server's
// hash.
package contentinstall

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/provision/lib/acz"
	"github.com/bureau-foundation/provision/lib/codec"
	"github.com/bureau-foundation/provision/lib/download"
	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/provisionerr"
	"github.com/bureau-foundation/provision/lib/serverinfo"
)

const (
	// ContentDirectory holds archives keyed by ContentKey.
	ContentDirectory = "content"

	// OverlayCacheDirectory holds manifest-assembled archives keyed
	// by manifest hash.
	OverlayCacheDirectory = "content_overlay_cache"

	// ArchiveName is the archive file in each key directory.
	ArchiveName = "client.zip"

	// MarkerSuffix is appended to the archive name to form its marker.
	MarkerSuffix = ".acz_overlay"
)

// Source says how EnsureOverlay obtained the archive it returned.
type Source int

const (
	// SourceOverlayCache is a manifest-assembled archive reused from
	// the overlay cache.
	SourceOverlayCache Source = iota

	// SourceCachedOverlay is a manifest-assembled archive reused
	// from the content directory.
	SourceCachedOverlay

	// SourceCachedArchive is a monolithic archive reused after its
	// hash checked out (or with no hash to check).
	SourceCachedArchive

	// SourceDownloaded is a monolithic archive fetched in this call.
	SourceDownloaded

	// SourceSynced is an archive assembled from the manifest in this
	// call.
	SourceSynced
)

func (s Source) String() string {
	switch s {
	case SourceOverlayCache:
		return "overlay-cache"
	case SourceCachedOverlay:
		return "cached-overlay"
	case SourceCachedArchive:
		return "cached-archive"
	case SourceDownloaded:
		return "downloaded"
	case SourceSynced:
		return "synced"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Overlay is the content archive to hand to the client.
type Overlay struct {
	Path   string
	Source Source

	// Sync is set when Source is SourceSynced.
	Sync *acz.Result
}

// marker is the record stored in a .acz_overlay file.
type marker struct {
	ManifestHash string `cbor:"manifest_hash"`
	ManifestURL  string `cbor:"manifest_url"`
	Entries      int    `cbor:"entries"`
}

// Options configures a Coordinator.
type Options struct {
	// DataDir is the provisioning data root. Required.
	DataDir string

	// Downloader fetches monolithic archives. Required.
	Downloader *download.Downloader

	// Syncer builds archives from manifests. Required.
	Syncer *acz.Syncer

	// Reporter receives stage events. Nil discards.
	Reporter progress.Reporter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Coordinator obtains content archives for build descriptors.
type Coordinator struct {
	dataDir    string
	downloader *download.Downloader
	syncer     *acz.Syncer
	reporter   progress.Reporter
	logger     *slog.Logger
}

// New returns a Coordinator.
func New(options Options) *Coordinator {
	coordinator := &Coordinator{
		dataDir:    options.DataDir,
		downloader: options.Downloader,
		syncer:     options.Syncer,
		reporter:   progress.OrNop(options.Reporter),
		logger:     options.Logger,
	}
	if coordinator.logger == nil {
		coordinator.logger = slog.Default()
	}
	return coordinator
}

// paths are the cache locations for one build.
type paths struct {
	archive       string
	marker        string
	overlay       string
	overlayMarker string
}

func (c *Coordinator) pathsFor(build *serverinfo.BuildDescriptor) paths {
	archive := filepath.Join(c.dataDir, ContentDirectory, build.ContentKey(), ArchiveName)
	result := paths{archive: archive, marker: archive + MarkerSuffix}
	if manifestHash := strings.TrimSpace(build.ManifestHash); manifestHash != "" {
		result.overlay = filepath.Join(c.dataDir, OverlayCacheDirectory, serverinfo.SanitizeKey(manifestHash), ArchiveName)
		result.overlayMarker = result.overlay + MarkerSuffix
	}
	return result
}

// EnsureOverlay returns a content archive for build, reusing cached
// archives where their identity allows and downloading or syncing
// otherwise. fallbackURL is the server's self-hosted client.zip; it
// is tried when the primary download URL answers 401, 403, or 404 and
// the two URLs differ. Empty disables the fallback.
func (c *Coordinator) EnsureOverlay(ctx context.Context, build *serverinfo.BuildDescriptor, fallbackURL string) (*Overlay, error) {
	if err := build.Validate(); err != nil {
		return nil, err
	}
	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}
	locations := c.pathsFor(build)
	logger := c.logger.With("key", build.ContentKey())

	if locations.overlay != "" {
		found, err := bothExist(locations.overlay, locations.overlayMarker)
		if err != nil {
			return nil, err
		}
		if found {
			logger.Debug("reusing overlay cache", "path", locations.overlay)
			return c.available(&Overlay{Path: locations.overlay, Source: SourceOverlayCache}), nil
		}
	}

	archiveExists, err := exists(locations.archive)
	if err != nil {
		return nil, err
	}
	markerExists, err := exists(locations.marker)
	if err != nil {
		return nil, err
	}
	switch {
	case archiveExists && markerExists:
		logger.Debug("reusing manifest-assembled archive", "path", locations.archive)
		return c.available(&Overlay{Path: locations.archive, Source: SourceCachedOverlay}), nil
	case !archiveExists && markerExists:
		if err := removeIfExists(locations.marker); err != nil {
			return nil, err
		}
	}

	if archiveExists {
		reusable, err := c.checkCachedArchive(build, locations.archive, logger)
		if err != nil {
			return nil, err
		}
		if reusable {
			return c.available(&Overlay{Path: locations.archive, Source: SourceCachedArchive}), nil
		}
	}

	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(build.DownloadURL) == "" {
		logger.Info("build has no archive URL, assembling from manifest")
		return c.sync(ctx, build, locations)
	}

	archiveErr := c.downloadWithFallback(ctx, build.DownloadURL, fallbackURL, locations.archive)
	if archiveErr == nil {
		if err := verifyArchive(build, locations.archive); err != nil {
			return nil, err
		}
		return c.available(&Overlay{Path: locations.archive, Source: SourceDownloaded}), nil
	}
	if provisionerr.IsCancelled(archiveErr) || !build.HasManifest() || !rejectedForAuth(archiveErr) {
		return nil, archiveErr
	}

	logger.Warn("content archive rejected, falling back to manifest sync",
		"url", provisionerr.RedactURL(build.DownloadURL),
		"status", netutil.StatusCodeOf(archiveErr),
	)
	if err := removeIfExists(locations.archive); err != nil {
		return nil, err
	}
	overlay, syncErr := c.sync(ctx, build, locations)
	if syncErr != nil {
		if provisionerr.IsCancelled(syncErr) {
			return nil, syncErr
		}
		return nil, &AcquisitionError{Archive: archiveErr, Sync: syncErr}
	}
	return overlay, nil
}

// checkCachedArchive reports whether an existing monolithic archive
// can be reused. A mismatching archive is removed.
func (c *Coordinator) checkCachedArchive(build *serverinfo.BuildDescriptor, path string, logger *slog.Logger) (bool, error) {
	expected := strings.TrimSpace(build.Hash)
	if expected == "" {
		return true, nil
	}
	actual, err := hashio.SHA256File(path)
	if err != nil {
		return false, provisionerr.CacheIOf("hash content archive", path, err)
	}
	if hashio.EqualHex(actual.String(), expected) {
		return true, nil
	}
	logger.Warn("cached content archive hash mismatch, downloading again",
		"path", path,
		"expected", expected,
		"actual", actual.String(),
	)
	return false, removeIfExists(path)
}

// downloadWithFallback downloads primaryURL, then fallbackURL if the
// primary was rejected with 401, 403, or 404 and the URLs differ.
// When both fail the error joins both failures.
func (c *Coordinator) downloadWithFallback(ctx context.Context, primaryURL, fallbackURL, path string) error {
	c.reporter.Stage(progress.StageDownloadContent, provisionerr.RedactURL(primaryURL))
	_, primaryErr := c.downloader.ToFile(ctx, primaryURL, path, progress.StageDownloadContent)
	if primaryErr == nil {
		return nil
	}
	fallbackURL = strings.TrimSpace(fallbackURL)
	if fallbackURL == "" || strings.EqualFold(fallbackURL, strings.TrimSpace(primaryURL)) ||
		!netutil.IsCDNRejection(primaryErr) {
		return primaryErr
	}

	c.logger.Warn("content archive rejected, trying server-hosted archive",
		"url", provisionerr.RedactURL(primaryURL),
		"fallback", provisionerr.RedactURL(fallbackURL),
		"status", netutil.StatusCodeOf(primaryErr),
	)
	if err := removeIfExists(path); err != nil {
		return err
	}
	c.reporter.Stage(progress.StageDownloadContent, provisionerr.RedactURL(fallbackURL))
	_, fallbackErr := c.downloader.ToFile(ctx, fallbackURL, path, progress.StageDownloadContent)
	if fallbackErr == nil {
		return nil
	}
	if provisionerr.IsCancelled(fallbackErr) {
		return fallbackErr
	}
	return fmt.Errorf("downloading content archive: primary: %w; fallback: %w", primaryErr, fallbackErr)
}

// sync assembles the archive from the manifest into the overlay cache
// when the manifest hash is known, else into the content directory,
// and writes the marker beside it.
func (c *Coordinator) sync(ctx context.Context, build *serverinfo.BuildDescriptor, locations paths) (*Overlay, error) {
	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}
	target, markerPath := locations.archive, locations.marker
	if locations.overlay != "" {
		target, markerPath = locations.overlay, locations.overlayMarker
	}

	result, err := c.syncer.Sync(ctx, build, target)
	if err != nil {
		return nil, err
	}
	record := marker{
		ManifestHash: result.ManifestHash,
		ManifestURL:  provisionerr.RedactURL(build.ManifestURL),
		Entries:      result.Entries,
	}
	if err := codec.WriteFile(markerPath, record); err != nil {
		// The archive is valid; without a marker the next launch
		// rebuilds it from the warm blob cache.
		c.logger.Warn("writing overlay marker failed", "path", markerPath, "error", err)
	}
	return &Overlay{Path: target, Source: SourceSynced, Sync: result}, nil
}

func (c *Coordinator) available(overlay *Overlay) *Overlay {
	c.reporter.Stage(progress.StageContentAvailable, overlay.Source.String())
	return overlay
}

// verifyArchive checks a freshly downloaded archive against the
// build's SHA-256 and removes it on mismatch.
func verifyArchive(build *serverinfo.BuildDescriptor, path string) error {
	expected := strings.TrimSpace(build.Hash)
	if expected == "" {
		return nil
	}
	actual, err := hashio.SHA256File(path)
	if err != nil {
		return provisionerr.CacheIOf("hash content archive", path, err)
	}
	if hashio.EqualHex(actual.String(), expected) {
		return nil
	}
	os.Remove(path)
	return provisionerr.Integrityf("verify content archive", build.DownloadURL,
		"sha256 %s, server lists %s: %w", actual, expected, provisionerr.ErrHashMismatch)
}

// rejectedForAuth reports whether any HTTP failure in err's tree is a
// 401 or 403.
func rejectedForAuth(err error) bool {
	if netutil.IsAuthRejection(err) {
		return true
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if rejectedForAuth(inner) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		if inner := wrapped.Unwrap(); inner != nil {
			return rejectedForAuth(inner)
		}
	}
	return false
}

// AcquisitionError reports that both the archive download and the
// manifest sync failed.
type AcquisitionError struct {
	Archive error
	Sync    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("content archive download failed: %v; manifest sync also failed: %v", e.Archive, e.Sync)
}

func (e *AcquisitionError) Unwrap() []error { return []error{e.Archive, e.Sync} }

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, provisionerr.CacheIOf("stat", path, err)
	}
}

func bothExist(first, second string) (bool, error) {
	found, err := exists(first)
	if err != nil || !found {
		return false, err
	}
	return exists(second)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return provisionerr.CacheIOf("remove", path, err)
	}
	return nil
}
