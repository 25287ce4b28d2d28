// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// errorSnippetSize is how much of a non-success body is kept for
// diagnostics.
const errorSnippetSize = 512

// StatusError describes a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Status     string

	// WWWAuthenticate and Server are copied from the response headers
	// when present. CDNs that protect content archives identify
	// themselves through these.
	WWWAuthenticate string
	Server          string

	// Body is the first 512 bytes of the response body, trimmed.
	Body string
}

// NewStatusError builds a StatusError from resp, reading at most
// errorSnippetSize bytes of the body. The caller still owns
// resp.Body.
func NewStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{
		StatusCode:      resp.StatusCode,
		Status:          resp.Status,
		WWWAuthenticate: resp.Header.Get("WWW-Authenticate"),
		Server:          resp.Header.Get("Server"),
	}
	if resp.Body != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetSize))
		statusErr.Body = strings.TrimSpace(strings.ToValidUTF8(string(snippet), string(utf8.RuneError)))
	}
	return statusErr
}

func (e *StatusError) Error() string {
	var builder strings.Builder
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	builder.WriteString("status ")
	builder.WriteString(status)
	if e.WWWAuthenticate != "" {
		builder.WriteString(" WWW-Authenticate=")
		builder.WriteString(e.WWWAuthenticate)
	}
	if e.Server != "" {
		builder.WriteString(" Server=")
		builder.WriteString(e.Server)
	}
	if e.Body != "" {
		builder.WriteString(" Body=")
		builder.WriteString(e.Body)
	}
	return builder.String()
}

// StatusCodeOf returns the HTTP status of the first StatusError in
// err's chain, or 0 if there is none.
func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// IsAuthRejection reports whether err is a 401 or 403 response.
func IsAuthRejection(err error) bool {
	code := StatusCodeOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsCDNRejection reports whether err is a 401, 403, or 404 response:
// the statuses a protected or misconfigured CDN returns for content a
// server still hosts itself.
func IsCDNRejection(err error) bool {
	return IsAuthRejection(err) || StatusCodeOf(err) == http.StatusNotFound
}
