// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/provision/lib/clock"
)

// DefaultInterval is how often an Aggregator samples its counter.
const DefaultInterval = 200 * time.Millisecond

// Aggregator owns a byte counter shared by many workers and a single
// goroutine that forwards periodic snapshots to a Reporter.
type Aggregator struct {
	stage    Stage
	total    int64
	reporter Reporter

	counter  atomic.Int64
	stop     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// StartAggregator starts the sampling goroutine. total may be zero
// when unknown. Stop must be called to release the goroutine.
func StartAggregator(c clock.Clock, interval time.Duration, reporter Reporter, stage Stage, total int64) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	aggregator := &Aggregator{
		stage:    stage,
		total:    total,
		reporter: OrNop(reporter),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	ticker := c.NewTicker(interval)
	go aggregator.run(ticker)
	return aggregator
}

func (a *Aggregator) run(ticker *clock.Ticker) {
	defer close(a.finished)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			current := a.counter.Load()
			if current != last {
				a.reporter.Transfer(a.stage, current, a.total)
				last = current
			}
		}
	}
}

// Add records n more bytes. Safe for concurrent use.
func (a *Aggregator) Add(n int64) {
	a.counter.Add(n)
}

// Total returns the bytes recorded so far.
func (a *Aggregator) Total() int64 {
	return a.counter.Load()
}

// Stop ends sampling, waits for the goroutine, and sends one final
// snapshot. Calling Stop more than once is harmless.
func (a *Aggregator) Stop() {
	a.once.Do(func() {
		close(a.stop)
		<-a.finished
		a.reporter.Transfer(a.stage, a.counter.Load(), a.total)
	})
}

// CountingReader adds every byte read from r to the aggregator.
func (a *Aggregator) CountingReader(r io.Reader) io.Reader {
	return &countingReader{reader: r, aggregator: a}
}

type countingReader struct {
	reader     io.Reader
	aggregator *Aggregator
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.aggregator.Add(int64(n))
	}
	return n, err
}
