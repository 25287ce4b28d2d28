// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	savedCommit, savedDirty, savedTime := GitCommit, GitDirty, BuildTime
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime = savedCommit, savedDirty, savedTime })

	GitCommit, GitDirty, BuildTime = "abc1234", "true", "2026-01-01T00:00:00Z"
	if got, want := Info(), Version+" (abc1234-dirty, 2026-01-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}

	GitDirty = "false"
	if strings.Contains(Info(), "dirty") {
		t.Errorf("Info() = %q reports a clean build as dirty", Info())
	}
	if !strings.HasPrefix(Full(), Info()) || !strings.Contains(Full(), "Go: ") {
		t.Errorf("Full() = %q", Full())
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "provision/"+Short() {
		t.Errorf("UserAgent() = %q", got)
	}
}
