// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provisionerr defines the error taxonomy shared by the
// provisioning pipeline.
//
// Every failure surfaced by the engine resolver, the content
// coordinator, the manifest syncer, or the blob cache falls into one of
// five kinds: [Network], [Protocol], [Integrity], [CacheIO], or
// [Cancelled]. Callers classify an error with [KindOf] and test for a
// specific named failure with errors.Is against the sentinel values
// ([ErrHashMismatch], [ErrProtocolUnsupported], ...).
//
// The structured [Error] type carries the operation and the offending
// URL so user-visible messages point at what failed. URLs are redacted
// with [RedactURL] before they are stored: userinfo and query strings
// never reach logs or error text.
package provisionerr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind int

const (
	// Unknown is the zero Kind, returned by KindOf for errors that
	// carry no classification.
	Unknown Kind = iota

	// Network covers connect, timeout, transport, and non-success
	// HTTP status failures.
	Network

	// Protocol covers malformed manifests, unsupported download
	// protocol versions, and truncated streams.
	Protocol

	// Integrity covers hash and signature mismatches. Never retried
	// more than once.
	Integrity

	// CacheIO covers filesystem failures creating, renaming, or
	// reading cache entries.
	CacheIO

	// Cancelled means the caller's context was cancelled.
	Cancelled
)

// String returns the lowercase kind name used in log output.
func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Protocol:
		return "protocol"
	case Integrity:
		return "integrity"
	case CacheIO:
		return "cache_io"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Named failures. Each one has a fixed kind (see kindOfSentinel).
var (
	ErrManifestUnavailable   = errors.New("engine build manifest unavailable")
	ErrUnknownVersion        = errors.New("engine version not present in manifest")
	ErrInsecureVersion       = errors.New("engine version is marked insecure")
	ErrNoPlatformBuild       = errors.New("no engine build for this platform")
	ErrRedirectLoop          = errors.New("engine version redirect loop")
	ErrHashMismatch          = errors.New("hash mismatch")
	ErrMissingManifestFields = errors.New("build descriptor is missing manifest URLs")
	ErrManifestFormat        = errors.New("malformed content manifest")
	ErrProtocolUnsupported   = errors.New("download protocol version not supported")
	ErrShortRead             = errors.New("short read from download stream")
	ErrResponseTooLarge      = errors.New("response body exceeds size limit")
	ErrSignatureInvalid      = errors.New("engine signature verification failed")
	ErrCancelled             = errors.New("operation cancelled")
)

var sentinelKinds = map[error]Kind{
	ErrManifestUnavailable:   Network,
	ErrUnknownVersion:        Protocol,
	ErrInsecureVersion:       Integrity,
	ErrNoPlatformBuild:       Protocol,
	ErrRedirectLoop:          Protocol,
	ErrHashMismatch:          Integrity,
	ErrMissingManifestFields: Protocol,
	ErrManifestFormat:        Protocol,
	ErrProtocolUnsupported:   Protocol,
	ErrShortRead:             Protocol,
	ErrResponseTooLarge:      Protocol,
	ErrSignatureInvalid:      Integrity,
	ErrCancelled:             Cancelled,
}

// Error is a classified failure with enough context to diagnose it.
//
//	var provisionErr *provisionerr.Error
//	if errors.As(err, &provisionErr) && provisionErr.Kind == provisionerr.Integrity { ... }
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op names the operation that failed ("download manifest",
	// "rename blob", ...).
	Op string

	// URL is the redacted URL involved, if any.
	URL string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error. The URL is redacted before storage.
func New(kind Kind, op, rawURL string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: RedactURL(rawURL), Err: err}
}

// Networkf, Protocolf, Integrityf and CacheIOf build a classified
// error from a format string. The format may use %w.
func Networkf(op, rawURL, format string, args ...any) *Error {
	return New(Network, op, rawURL, fmt.Errorf(format, args...))
}

func Protocolf(op, rawURL, format string, args ...any) *Error {
	return New(Protocol, op, rawURL, fmt.Errorf(format, args...))
}

func Integrityf(op, rawURL, format string, args ...any) *Error {
	return New(Integrity, op, rawURL, fmt.Errorf(format, args...))
}

func CacheIOf(op, path string, err error) *Error {
	return &Error{Kind: CacheIO, Op: fmt.Sprintf("%s %s", op, path), Err: err}
}

// KindOf returns the kind of the outermost classified error in the
// chain. Context cancellation is reported as Cancelled regardless of
// wrapping; a bare deadline expiry is a Network timeout.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return Cancelled
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Kind != Unknown {
		return classified.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Network
	}
	return Unknown
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == Cancelled
}

// CheckContext is the cooperative cancellation check point. It
// returns nil while ctx is live and a Cancelled error once ctx is done.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Cancel(err)
	}
	return nil
}

// Cancel wraps a context error into the uniform cancellation error.
// Both ErrCancelled and the original context error match errors.Is.
func Cancel(cause error) error {
	return &Error{Kind: Cancelled, Op: "provision", Err: errors.Join(ErrCancelled, cause)}
}

// RedactURL strips userinfo, query string, and fragment from a URL so
// it can be included in errors and logs without leaking credentials.
// Unparseable input is returned as "<invalid url>".
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}
