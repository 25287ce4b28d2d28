// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/provision/lib/blobcache"
	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

const (
	// DefaultConcurrency is the worker count when none is configured.
	DefaultConcurrency = 8

	minBatchSize     = 64
	maxBatchSize     = 4096
	batchesPerWorker = 4

	responseBufferSize = 64 * 1024
)

// planBatches splits missing indices into batches and picks the
// worker count. A non-positive batchSize is derived so each worker
// gets about four batches, clamped to [64, 4096]. The worker count
// never exceeds the number of batches.
func planBatches(missing []int32, concurrency, batchSize int) (batches [][]int32, workers int) {
	if len(missing) == 0 {
		return nil, 0
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	concurrency = min(concurrency, len(missing))

	if batchSize <= 0 {
		target := concurrency * batchesPerWorker
		batchSize = (len(missing) + target - 1) / target
		batchSize = max(minBatchSize, min(batchSize, maxBatchSize))
	}

	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))
		batches = append(batches, missing[start:end])
	}
	return batches, min(concurrency, len(batches))
}

// downloader fetches batches of blobs into the cache.
type downloader struct {
	httpClient  *http.Client
	userAgent   string
	downloadURL string
	entries     []Entry
	cache       *blobcache.Cache
	aggregator  *progress.Aggregator
	logger      *slog.Logger
}

// run drains batches with the given number of workers. Workers share
// one FIFO queue. The first failure sets the abort flag: workers
// finish the batch in hand, then stop taking new ones. run returns
// the first failure after every worker has exited.
func (d *downloader) run(ctx context.Context, batches [][]int32, workers int) error {
	queue := make(chan []int32, len(batches))
	for _, batch := range batches {
		queue <- batch
	}
	close(queue)

	var (
		abort    atomic.Bool
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.work(ctx, worker, queue, &abort); err != nil {
				abort.Store(true)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// work is one worker's loop. A panic anywhere below is returned as an
// error rather than taking down the process.
func (d *downloader) work(ctx context.Context, worker int, queue <-chan []int32, abort *atomic.Bool) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("blob download worker %d panicked: %v", worker, recovered)
		}
	}()

	decoder, err := newStreamDecoder()
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	for {
		if abort.Load() {
			return nil
		}
		batch, ok := <-queue
		if !ok {
			return nil
		}
		if err := d.fetchBatch(ctx, decoder, batch); err != nil {
			abort.Store(true)
			return err
		}
	}
}

// fetchBatch POSTs one batch and streams every blob in the response
// into the cache.
func (d *downloader) fetchBatch(ctx context.Context, decoder *zstd.Decoder, batch []int32) error {
	if err := provisionerr.CheckContext(ctx); err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.downloadURL, bytes.NewReader(encodeIndices(batch)))
	if err != nil {
		return fmt.Errorf("building blob batch request: %w", err)
	}
	request.Header.Set(headerProtocol, fmt.Sprint(ProtocolVersion))
	request.Header.Set("Accept-Encoding", "zstd")
	request.Header.Set("Content-Type", "application/octet-stream")
	if d.userAgent != "" {
		request.Header.Set("User-Agent", d.userAgent)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return provisionerr.Cancel(ctx.Err())
		}
		return provisionerr.New(provisionerr.Network, "download blobs", d.downloadURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return provisionerr.New(provisionerr.Network, "download blobs", d.downloadURL, netutil.NewStatusError(response))
	}

	var body io.Reader = response.Body
	if isZstdEncoded(response.Header) {
		bodyDecoder, err := zstd.NewReader(response.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return provisionerr.Protocolf("download blobs", d.downloadURL, "opening zstd response: %w", err)
		}
		defer bodyDecoder.Close()
		body = bodyDecoder
	}
	body = d.aggregator.CountingReader(bufio.NewReaderSize(body, responseBufferSize))

	if err := d.readBatch(ctx, decoder, body, batch); err != nil {
		if ctx.Err() != nil {
			return provisionerr.Cancel(ctx.Err())
		}
		if provisionerr.KindOf(err) == provisionerr.Unknown {
			return provisionerr.New(provisionerr.Protocol, "download blobs", d.downloadURL, err)
		}
		return fmt.Errorf("download blobs %s: %w", provisionerr.RedactURL(d.downloadURL), err)
	}
	d.logger.Debug("blob batch stored", "blobs", len(batch), "first_index", batch[0])
	return nil
}

// readBatch decodes a batch response body.
func (d *downloader) readBatch(ctx context.Context, decoder *zstd.Decoder, body io.Reader, batch []int32) error {
	flags, err := readInt32(body)
	if err != nil {
		return err
	}
	precompressed := flags&flagPrecompressed != 0

	for _, index := range batch {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return err
		}
		entry := d.entries[index]

		size, err := readLength(body, "uncompressed length")
		if err != nil {
			return fmt.Errorf("blob %d (%s): %w", index, entry.Path, err)
		}
		payload := size
		compressed := false
		if precompressed {
			compressedSize, err := readLength(body, "compressed length")
			if err != nil {
				return fmt.Errorf("blob %d (%s): %w", index, entry.Path, err)
			}
			if compressedSize > 0 {
				payload = compressedSize
				compressed = true
			}
		}

		if d.cache.Exists(entry.Hash) {
			if err := hashio.Discard(ctx, body, payload); err != nil {
				return fmt.Errorf("skipping cached blob %d (%s): %w", index, entry.Path, err)
			}
			continue
		}

		if err := d.storeBlob(ctx, decoder, body, entry, size, payload, compressed); err != nil {
			return fmt.Errorf("blob %d (%s): %w", index, entry.Path, err)
		}
	}
	return nil
}

// storeBlob writes one framed blob into the cache. Exactly payload
// bytes are consumed from body on success.
func (d *downloader) storeBlob(ctx context.Context, decoder *zstd.Decoder, body io.Reader, entry Entry, size, payload int64, compressed bool) error {
	if !compressed {
		_, err := d.cache.Put(ctx, entry.Hash, body, size)
		return err
	}

	frame := io.LimitReader(body, payload)
	if err := decoder.Reset(frame); err != nil {
		return fmt.Errorf("starting zstd blob stream: %w", err)
	}
	if _, err := d.cache.Put(ctx, entry.Hash, decoder, size); err != nil {
		return err
	}
	extra, err := io.Copy(io.Discard, decoder)
	if err != nil {
		return fmt.Errorf("finishing zstd blob stream: %w", err)
	}
	if extra > 0 {
		return provisionerr.Protocolf("decompress blob", "", "stream is %d bytes longer than declared %d", extra, size)
	}
	if _, err := io.Copy(io.Discard, frame); err != nil {
		return fmt.Errorf("draining compressed frame: %w", err)
	}
	return nil
}
