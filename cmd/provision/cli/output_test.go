// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bureau-foundation/provision/lib/progress"
)

func TestWriteJSONNilSlice(t *testing.T) {
	var buffer bytes.Buffer
	var entries []string
	if err := WriteJSON(&buffer, entries); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("WriteJSON(nil slice) = %q, want []", got)
	}
}

func TestWriteFieldsSkipsEmpty(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteFields(&buffer, Field{"Engine", "/data/engine.zip"}, Field{"Source", ""}); err != nil {
		t.Fatalf("WriteFields: %v", err)
	}
	if !strings.Contains(buffer.String(), "/data/engine.zip") || strings.Contains(buffer.String(), "Source") {
		t.Errorf("output = %q", buffer.String())
	}
}

func TestFormatTransfer(t *testing.T) {
	tests := []struct {
		done, total int64
		want        string
	}{
		{0, 0, "0 B"},
		{1536, 0, "1.5 KiB"},
		{512, 2048, "512 B / 2.0 KiB (25%)"},
		{-1, 0, "0 B"},
	}
	for _, test := range tests {
		if got := FormatTransfer(test.done, test.total); got != test.want {
			t.Errorf("FormatTransfer(%d, %d) = %q, want %q", test.done, test.total, got, test.want)
		}
	}
}

func TestTerminalReporterEndsTransferLine(t *testing.T) {
	var buffer bytes.Buffer
	reporter := NewReporter(&buffer, true, nil)
	reporter.Stage(progress.StageDownloadEngine, "1.1")
	reporter.Transfer(progress.StageDownloadEngine, 10, 100)
	reporter.Transfer(progress.StageDownloadEngine, 100, 100)
	reporter.Stage(progress.StageVerifyEngine, "")

	lines := strings.Split(buffer.String(), "\n")
	if len(lines) != 4 {
		t.Fatalf("output has %d lines, want 4: %q", len(lines), buffer.String())
	}
	if !strings.Contains(lines[1], "(10%)") || !strings.HasSuffix(lines[1], "(100%)") {
		t.Errorf("transfer line = %q", lines[1])
	}
	if !strings.Contains(lines[2], string(progress.StageVerifyEngine)) {
		t.Errorf("stage line = %q", lines[2])
	}
}

func TestNewReporterOffTerminalLogs(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewLogger(&buffer, false, false)
	reporter := NewReporter(&buffer, false, logger)
	reporter.Stage(progress.StageFetchManifest, "example.org")
	if !strings.Contains(buffer.String(), `"stage":"fetch-manifest"`) {
		t.Errorf("log output = %q, want a JSON stage record", buffer.String())
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buffer bytes.Buffer
	NewLogger(&buffer, true, false).Debug("hidden")
	if buffer.Len() != 0 {
		t.Errorf("debug record written at info level: %q", buffer.String())
	}
	NewLogger(&buffer, true, true).Debug("shown")
	if !strings.Contains(buffer.String(), "shown") {
		t.Errorf("debug record missing at debug level: %q", buffer.String())
	}
}
