// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package download fetches a single archive over HTTP into a file.
//
// Archives are requested with Accept-Encoding: identity so the bytes
// on disk are exactly the bytes the server hashed. The body streams
// into a temporary file beside the destination while its SHA-256 is
// computed, and the file is renamed into place only after the whole
// body arrived. A failed or cancelled download leaves nothing at the
// destination.
package download

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/provision/lib/atomicfile"
	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// Options configures a Downloader.
type Options struct {
	// Client sends the GET with retry. Required.
	Client *netutil.Client

	// Reporter receives byte progress. Nil discards.
	Reporter progress.Reporter

	// Clock drives the progress sampler. Nil means clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Downloader writes HTTP archives to files.
type Downloader struct {
	client   *netutil.Client
	reporter progress.Reporter
	clock    clock.Clock
	logger   *slog.Logger
}

// New returns a Downloader.
func New(options Options) *Downloader {
	downloader := &Downloader{
		client:   options.Client,
		reporter: progress.OrNop(options.Reporter),
		clock:    options.Clock,
		logger:   options.Logger,
	}
	if downloader.clock == nil {
		downloader.clock = clock.Real()
	}
	if downloader.logger == nil {
		downloader.logger = slog.Default()
	}
	return downloader
}

// Result describes a completed download.
type Result struct {
	Bytes  int64
	SHA256 hashio.Digest
}

// ToFile downloads rawURL to path. A non-success status fails with a
// Network error wrapping *netutil.StatusError. stage labels progress
// events.
func (d *Downloader) ToFile(ctx context.Context, rawURL, path string, stage progress.Stage) (*Result, error) {
	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}
	started := d.clock.Now()

	response, err := d.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Accept-Encoding", "identity")
		return request, nil
	})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, provisionerr.New(provisionerr.Network, "download", rawURL, netutil.NewStatusError(response))
	}

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, provisionerr.CacheIOf("create download directory", directory, err)
	}
	pending, err := atomicfile.Create(path)
	if err != nil {
		return nil, provisionerr.CacheIOf("create temporary download", path, err)
	}
	defer pending.Cleanup()
	if err := pending.Chmod(0o644); err != nil {
		return nil, provisionerr.CacheIOf("chmod temporary download", pending.Name(), err)
	}

	total := max(response.ContentLength, 0)
	d.reporter.Stage(stage, provisionerr.RedactURL(rawURL))
	aggregator := progress.StartAggregator(d.clock, progress.DefaultInterval, d.reporter, stage, total)
	defer aggregator.Stop()

	hasher := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(pending, hasher), aggregator.CountingReader(response.Body))
	if err != nil {
		if kind := provisionerr.KindOf(err); kind == provisionerr.Cancelled || kind == provisionerr.CacheIO {
			return nil, err
		}
		return nil, provisionerr.Networkf("download", rawURL, "reading body after %d bytes: %w", written, err)
	}
	if response.ContentLength >= 0 && written != response.ContentLength {
		return nil, provisionerr.Networkf("download", rawURL, "body is %d bytes, Content-Length %d: %w",
			written, response.ContentLength, provisionerr.ErrShortRead)
	}

	if err := pending.Commit(); err != nil {
		return nil, provisionerr.CacheIOf("replace download", path, err)
	}

	result := &Result{Bytes: written, SHA256: hashio.SumOf(hasher)}
	d.logger.Info("download complete",
		"url", provisionerr.RedactURL(rawURL),
		"path", path,
		"size", humanize.IBytes(uint64(written)),
		"duration", d.clock.Now().Sub(started).Round(time.Millisecond),
	)
	return result, nil
}

// copyWithContext copies src to dst in hashio.ChunkSize reads,
// checking ctx before each one.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buffer := make([]byte, hashio.ChunkSize)
	var total int64
	for {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return total, err
		}
		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, err := dst.Write(buffer[:n]); err != nil {
				return total, &provisionerr.Error{Kind: provisionerr.CacheIO, Op: "write download", Err: err}
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return total, provisionerr.Cancel(ctx.Err())
			}
			return total, readErr
		}
	}
}
