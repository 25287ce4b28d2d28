// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !provisiondebug

package signature

const debugBuild = false
