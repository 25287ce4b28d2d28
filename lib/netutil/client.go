// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"net"
	"net/http"
	"time"
)

// Profile selects timeouts for an HTTP client.
type Profile struct {
	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration

	// RequestTimeout bounds a whole request including the body read.
	// Zero means no limit.
	RequestTimeout time.Duration
}

// APIProfile is for short JSON calls: /info, the engine manifest.
var APIProfile = Profile{ConnectTimeout: 10 * time.Second, RequestTimeout: 20 * time.Second}

// DownloadProfile is for archives, manifests, and blob batches.
var DownloadProfile = Profile{ConnectTimeout: 10 * time.Second, RequestTimeout: 10 * time.Minute}

// NewHTTPClient returns a client with the profile's timeouts. The
// transport does not add Accept-Encoding on its own behalf, so callers
// that set the header receive the body exactly as the server sent it.
func NewHTTPClient(profile Profile) *http.Client {
	dialer := &net.Dialer{Timeout: profile.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.DisableCompression = true
	return &http.Client{Transport: transport, Timeout: profile.RequestTimeout}
}
