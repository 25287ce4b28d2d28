// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build provisiondebug

package commands

import "testing"

func TestEngineInstallSkipVerifyInDebug(t *testing.T) {
	f := newFixture(t)
	f.replaceSigningKey(t)

	if err := f.run("engine", "install", "--skip-verify", "--json", "1.1"); err != nil {
		t.Fatalf("install --skip-verify: %v", err)
	}
	var output installOutput
	f.decode(t, &output)
	if output.Verified {
		t.Error("output reports a verified signature after --skip-verify")
	}
}
