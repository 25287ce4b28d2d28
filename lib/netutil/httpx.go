// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the HTTP plumbing shared by every network
// call in the provisioning pipeline.
//
// [Client] sends idempotent requests with bounded retry: connect and
// timeout failures and transient statuses (408, 429, 5xx) are retried
// with exponential backoff, honouring a server Retry-After header up
// to a cap. Everything else is returned to the caller on the first
// attempt. Backoff waits use an injected lib/clock so tests never
// sleep.
//
// [StatusError] carries the diagnostics of a non-success response:
// status, WWW-Authenticate and Server headers, and a truncated body
// snippet. The content coordinator inspects it to decide whether a
// failed CDN download looks like an authorization rejection.
//
// Response helpers (ReadResponse, DecodeResponse) bound all JSON and
// manifest reads at MaxResponseSize and reject larger bodies with
// provisionerr.ErrResponseTooLarge. Archive downloads are streamed to
// disk and never go through them.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// MaxResponseSize bounds in-memory response reads: 256 MB. Manifests
// for large games are a few megabytes; the limit only guards against a
// pathological server.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a whole response body. A body longer than
// MaxResponseSize is an error, never a truncated result.
func ReadResponse(body io.Reader) ([]byte, error) {
	return readLimited(body, MaxResponseSize)
}

func readLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("more than %d bytes: %w", limit, provisionerr.ErrResponseTooLarge)
	}
	return data, nil
}

// DecodeResponse reads a JSON response body (up to MaxResponseSize
// bytes) and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}
