// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enginebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// DefaultManifestURLs are the public engine build manifest mirrors,
// primary first.
var DefaultManifestURLs = []string{
	"https://robust-builds.cdn.spacestation14.com/manifest.json",
	"https://robust-builds.fallback.cdn.spacestation14.com/manifest.json",
}

// ResolvedBuild is the concrete archive a requested version maps to on
// this host.
type ResolvedBuild struct {
	RequestedVersion string
	ResolvedVersion  string
	RID              string
	URL              string
	SHA256           string
	Signature        string
}

// Host names an operating system and architecture in Go's terms.
type Host struct {
	GOOS   string
	GOARCH string
}

// CurrentHost returns the host this binary runs on.
func CurrentHost() Host {
	return Host{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

// RIDCandidates returns the runtime identifiers this host can run, in
// preference order. Unknown hosts get no candidates and fall back to
// the manifest's first platform.
func RIDCandidates(host Host) []string {
	switch host {
	case Host{"windows", "amd64"}:
		return []string{"win-x64", "win-x86"}
	case Host{"windows", "386"}:
		return []string{"win-x86", "win-x64"}
	case Host{"windows", "arm64"}:
		return []string{"win-arm64", "win-x64"}
	case Host{"linux", "amd64"}:
		return []string{"linux-x64"}
	case Host{"linux", "arm64"}:
		return []string{"linux-arm64"}
	case Host{"darwin", "arm64"}:
		return []string{"osx-arm64"}
	case Host{"darwin", "amd64"}:
		return []string{"osx-x64"}
	}
	return nil
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Client fetches the manifest with retry. Required.
	Client *netutil.Client

	// ManifestURLs are tried in order. Empty means DefaultManifestURLs.
	ManifestURLs []string

	// Host selects RID candidates. Zero means CurrentHost().
	Host Host

	// Reporter receives the resolve stage. Nil discards.
	Reporter progress.Reporter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Resolver maps engine version strings to downloadable builds using
// the engine build manifest.
type Resolver struct {
	client       *netutil.Client
	manifestURLs []string
	candidates   []string
	reporter     progress.Reporter
	logger       *slog.Logger
}

// NewResolver returns a Resolver. Options.Client must be set.
func NewResolver(options ResolverOptions) *Resolver {
	resolver := &Resolver{
		client:       options.Client,
		manifestURLs: options.ManifestURLs,
		reporter:     progress.OrNop(options.Reporter),
		logger:       options.Logger,
	}
	if len(resolver.manifestURLs) == 0 {
		resolver.manifestURLs = DefaultManifestURLs
	}
	host := options.Host
	if host == (Host{}) {
		host = CurrentHost()
	}
	resolver.candidates = RIDCandidates(host)
	if resolver.logger == nil {
		resolver.logger = slog.Default()
	}
	return resolver
}

// Candidates returns the RID preference list in use.
func (r *Resolver) Candidates() []string { return r.candidates }

// Resolve fetches the manifest and resolves version against it. See
// Manifest.Resolve for the failure modes beyond
// provisionerr.ErrManifestUnavailable.
func (r *Resolver) Resolve(ctx context.Context, version string) (*ResolvedBuild, error) {
	r.reporter.Stage(progress.StageResolveEngine, version)
	manifest, err := r.FetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	build, err := manifest.Resolve(version, r.candidates)
	if err != nil {
		return nil, err
	}
	r.logger.Info("engine version resolved",
		"requested", build.RequestedVersion,
		"resolved", build.ResolvedVersion,
		"rid", build.RID,
	)
	return build, nil
}

// FetchManifest downloads and parses the manifest from the first
// mirror that answers with a valid document. If every mirror fails the
// error wraps provisionerr.ErrManifestUnavailable and each mirror's
// failure.
func (r *Resolver) FetchManifest(ctx context.Context) (Manifest, error) {
	var failures []error
	for _, manifestURL := range r.manifestURLs {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return nil, err
		}
		manifest, err := r.fetchFrom(ctx, manifestURL)
		if err == nil {
			return manifest, nil
		}
		if provisionerr.IsCancelled(err) {
			return nil, err
		}
		r.logger.Warn("engine manifest mirror failed",
			"url", provisionerr.RedactURL(manifestURL),
			"error", err,
		)
		failures = append(failures, err)
	}
	return nil, provisionerr.New(provisionerr.Network, "fetch engine manifest", "",
		fmt.Errorf("%w: %w", provisionerr.ErrManifestUnavailable, errors.Join(failures...)))
}

func (r *Resolver) fetchFrom(ctx context.Context, manifestURL string) (Manifest, error) {
	response, err := r.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Accept", "application/json")
		return request, nil
	})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, provisionerr.New(provisionerr.Network, "fetch engine manifest", manifestURL, netutil.NewStatusError(response))
	}
	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, provisionerr.Cancel(ctx.Err())
		}
		kind := provisionerr.Network
		if errors.Is(err, provisionerr.ErrResponseTooLarge) {
			kind = provisionerr.Protocol
		}
		return nil, provisionerr.New(kind, "read engine manifest", manifestURL, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, provisionerr.New(provisionerr.Protocol, "parse engine manifest", manifestURL, err)
	}
	return manifest, nil
}
