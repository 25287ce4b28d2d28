// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"sync"

	"github.com/bureau-foundation/provision/lib/progress"
)

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *stageRecorder) Stage(stage progress.Stage, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, string(stage))
}

func (r *stageRecorder) Transfer(progress.Stage, int64, int64) {}

func (r *stageRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}
