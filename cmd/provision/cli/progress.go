// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/provision/lib/progress"
)

// NewReporter returns the progress reporter for a command. On a
// terminal it draws stage lines and a rewriting transfer line on w;
// otherwise progress goes to logger as structured records.
func NewReporter(w io.Writer, terminal bool, logger *slog.Logger) progress.Reporter {
	if !terminal {
		return progress.LogReporter{Logger: logger}
	}
	return &terminalReporter{w: w}
}

// terminalReporter serializes events from concurrent acquisitions
// onto one writer.
type terminalReporter struct {
	mu sync.Mutex
	w  io.Writer

	// transferLine is true while the cursor sits at the end of an
	// unterminated transfer line.
	transferLine bool
}

func (r *terminalReporter) Stage(stage progress.Stage, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endTransferLine()
	if detail == "" {
		fmt.Fprintf(r.w, "%s\n", stageStyle.Render(string(stage)))
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", stageStyle.Render(string(stage)), detail)
}

func (r *terminalReporter) Transfer(stage progress.Stage, done, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "\r\x1b[2K  %s %s", string(stage), FormatTransfer(done, total))
	r.transferLine = true
}

func (r *terminalReporter) endTransferLine() {
	if r.transferLine {
		fmt.Fprintln(r.w)
		r.transferLine = false
	}
}

// FormatTransfer renders a byte count against an optional total:
// "1.5 MiB / 10 MiB (15%)" or "1.5 MiB" when total is unknown.
func FormatTransfer(done, total int64) string {
	if total <= 0 {
		return humanize.IBytes(uint64(max(done, 0)))
	}
	percent := done * 100 / total
	return fmt.Sprintf("%s / %s (%d%%)",
		humanize.IBytes(uint64(max(done, 0))), humanize.IBytes(uint64(total)), percent)
}
