// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress carries progress events from the provisioning
// pipeline to whatever presents them.
//
// Components report through a [Reporter]: stage transitions ("fetching
// manifest", "downloading blobs") and byte counts for long transfers.
// A nil Reporter is never passed around; use [Nop] instead.
//
// Blob downloads run on many workers. Rather than every worker calling
// the Reporter, workers add to a single atomic counter owned by an
// [Aggregator], and one goroutine samples that counter on a ticker and
// forwards the snapshot. Reporter implementations therefore see at
// most one Transfer call per interval regardless of worker count.
package progress

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// Stage identifies a phase of provisioning.
type Stage string

const (
	StageResolveEngine    Stage = "resolve-engine"
	StageDownloadEngine   Stage = "download-engine"
	StageVerifyEngine     Stage = "verify-engine"
	StageDownloadContent  Stage = "download-content"
	StageFetchManifest    Stage = "fetch-manifest"
	StageCheckCache       Stage = "check-cache"
	StageDownloadBlobs    Stage = "download-blobs"
	StageAssembleArchive  Stage = "assemble-archive"
	StageContentAvailable Stage = "content-available"
)

// Reporter receives progress events. Implementations must be safe for
// concurrent use: content and engine acquisition may run in parallel.
type Reporter interface {
	// Stage announces the start of a phase. detail is a short
	// human-readable qualifier (a version, a URL host) and may be
	// empty.
	Stage(stage Stage, detail string)

	// Transfer reports bytes moved so far for the current phase.
	// total is zero when unknown.
	Transfer(stage Stage, done, total int64)
}

// Nop returns a Reporter that drops every event.
func Nop() Reporter { return nopReporter{} }

type nopReporter struct{}

func (nopReporter) Stage(Stage, string)           {}
func (nopReporter) Transfer(Stage, int64, int64) {}

// OrNop returns reporter, or Nop when reporter is nil.
func OrNop(reporter Reporter) Reporter {
	if reporter == nil {
		return Nop()
	}
	return reporter
}

// LogReporter writes stage transitions at Info and transfer snapshots
// at Debug.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogReporter) Stage(stage Stage, detail string) {
	if detail == "" {
		r.logger().Info("provisioning stage", "stage", string(stage))
		return
	}
	r.logger().Info("provisioning stage", "stage", string(stage), "detail", detail)
}

func (r LogReporter) Transfer(stage Stage, done, total int64) {
	if total > 0 {
		r.logger().Debug("transfer progress",
			"stage", string(stage),
			"done", humanize.IBytes(uint64(done)),
			"total", humanize.IBytes(uint64(total)),
		)
		return
	}
	r.logger().Debug("transfer progress", "stage", string(stage), "done", humanize.IBytes(uint64(done)))
}
