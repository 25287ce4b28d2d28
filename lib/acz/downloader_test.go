// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/provision/lib/blobcache"
	"github.com/bureau-foundation/provision/lib/testutil"
)

func sequence(n int) []int32 {
	indices := make([]int32, n)
	for i := range indices {
		indices[i] = int32(i)
	}
	return indices
}

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name        string
		missing     int
		concurrency int
		batchSize   int
		wantBatches int
		wantWorkers int
		wantFirst   int
	}{
		{name: "single blob", missing: 1, concurrency: 8, wantBatches: 1, wantWorkers: 1, wantFirst: 1},
		{name: "minimum batch size", missing: 100, concurrency: 8, wantBatches: 2, wantWorkers: 2, wantFirst: 64},
		{name: "four per worker", missing: 8 * 4 * 200, concurrency: 8, wantBatches: 32, wantWorkers: 8, wantFirst: 200},
		{name: "maximum batch size", missing: 200000, concurrency: 2, wantBatches: 49, wantWorkers: 2, wantFirst: 4096},
		{name: "explicit batch size", missing: 10, concurrency: 8, batchSize: 3, wantBatches: 4, wantWorkers: 4, wantFirst: 3},
		{name: "default concurrency", missing: 10000, concurrency: 0, wantBatches: 32, wantWorkers: 8, wantFirst: 313},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			missing := sequence(test.missing)
			batches, workers := planBatches(missing, test.concurrency, test.batchSize)
			if len(batches) != test.wantBatches {
				t.Errorf("batches = %d, want %d", len(batches), test.wantBatches)
			}
			if workers != test.wantWorkers {
				t.Errorf("workers = %d, want %d", workers, test.wantWorkers)
			}
			if len(batches) > 0 && len(batches[0]) != test.wantFirst {
				t.Errorf("first batch size = %d, want %d", len(batches[0]), test.wantFirst)
			}
			next := int32(0)
			for _, batch := range batches {
				for _, index := range batch {
					if index != next {
						t.Fatalf("batches are not an in-order partition: got %d, want %d", index, next)
					}
					next++
				}
			}
			if int(next) != test.missing {
				t.Errorf("batches cover %d indices, want %d", next, test.missing)
			}
		})
	}

	if batches, workers := planBatches(nil, 8, 0); batches != nil || workers != 0 {
		t.Errorf("planBatches(nil) = %v, %d", batches, workers)
	}
}

func TestWorkerPanicBecomesError(t *testing.T) {
	server := testutil.NewContentServer(t, []testutil.ContentFile{
		{Path: "a.txt", Data: []byte("panic fodder")},
	}, testutil.ContentServerOptions{CorruptIndex: -1})
	manifest, err := ParseManifest(server.Manifest)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	// A nil aggregator makes the first counted read dereference nil.
	worker := &downloader{
		httpClient:  server.Client(),
		downloadURL: server.DownloadURL(),
		entries:     manifest.Entries,
		cache:       blobcache.New(t.TempDir()),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	var abort atomic.Bool
	queue := make(chan []int32, 1)
	queue <- []int32{0}
	close(queue)

	err = worker.work(context.Background(), 0, queue, &abort)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("work error = %v, want recovered panic", err)
	}
}

func TestAbortStopsTakingBatches(t *testing.T) {
	worker := &downloader{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	var abort atomic.Bool
	abort.Store(true)

	queue := make(chan []int32, 2)
	queue <- []int32{0}
	queue <- []int32{1}
	close(queue)

	if err := worker.work(context.Background(), 0, queue, &abort); err != nil {
		t.Fatalf("work: %v", err)
	}
	if len(queue) != 2 {
		t.Errorf("aborted worker consumed %d batches", 2-len(queue))
	}
}
