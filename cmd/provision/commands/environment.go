// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/lib/acz"
	"github.com/bureau-foundation/provision/lib/blobcache"
	"github.com/bureau-foundation/provision/lib/config"
	"github.com/bureau-foundation/provision/lib/contentinstall"
	"github.com/bureau-foundation/provision/lib/download"
	"github.com/bureau-foundation/provision/lib/enginebuild"
	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/version"
)

// globalOptions holds the root command's flags and the process's
// output streams.
type globalOptions struct {
	configPath  string
	dataDir     string
	verbose     bool
	showVersion bool

	stdout   io.Writer
	stderr   io.Writer
	terminal bool

	// host overrides RID selection. Zero means the running host.
	host enginebuild.Host
}

// environment is the wiring shared by every command that touches the
// network or the data directory.
type environment struct {
	config   *config.Config
	logger   *slog.Logger
	reporter progress.Reporter
	host     enginebuild.Host

	// apiClient carries small requests; downloadClient archives and
	// blob batches.
	apiClient      *netutil.Client
	downloadClient *netutil.Client
}

// environment loads configuration, applies --data-dir, and builds the
// logger and HTTP clients.
func (g *globalOptions) environment() (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	logger := cli.NewLogger(g.stderr, g.terminal, g.verbose)
	retry := netutil.RetryOptions{
		MaxRetries: cfg.HTTP.MaxRetries,
		UserAgent:  version.UserAgent(),
		Logger:     logger,
	}
	return &environment{
		config:   cfg,
		logger:   logger,
		reporter: cli.NewReporter(g.stderr, g.terminal, logger),
		host:     g.host,
		apiClient: netutil.NewClient(netutil.NewHTTPClient(netutil.Profile{
			ConnectTimeout: cfg.HTTP.ConnectTimeout,
			RequestTimeout: cfg.HTTP.APITimeout,
		}), retry),
		downloadClient: netutil.NewClient(netutil.NewHTTPClient(netutil.Profile{
			ConnectTimeout: cfg.HTTP.ConnectTimeout,
			RequestTimeout: cfg.HTTP.DownloadTimeout,
		}), retry),
	}, nil
}

func (e *environment) resolver() *enginebuild.Resolver {
	return enginebuild.NewResolver(enginebuild.ResolverOptions{
		Client:       e.apiClient,
		ManifestURLs: e.config.Engine.ManifestURLs,
		Host:         e.host,
		Reporter:     e.reporter,
		Logger:       e.logger,
	})
}

func (e *environment) downloader() *download.Downloader {
	return download.New(download.Options{
		Client:   e.downloadClient,
		Reporter: e.reporter,
		Logger:   e.logger,
	})
}

func (e *environment) installer() *enginebuild.Installer {
	return enginebuild.NewInstaller(enginebuild.InstallerOptions{
		DataDir:    e.config.DataDir,
		Resolver:   e.resolver(),
		Downloader: e.downloader(),
		Reporter:   e.reporter,
		Logger:     e.logger,
	})
}

func (e *environment) coordinator() *contentinstall.Coordinator {
	return contentinstall.New(contentinstall.Options{
		DataDir:    e.config.DataDir,
		Downloader: e.downloader(),
		Syncer: acz.NewSyncer(acz.Options{
			Cache:       blobcache.New(e.config.DataDir),
			Client:      e.downloadClient,
			UserAgent:   version.UserAgent(),
			Concurrency: e.config.Download.Concurrency,
			BatchSize:   e.config.Download.BatchSize,
			Reporter:    e.reporter,
			Logger:      e.logger,
		}),
		Reporter: e.reporter,
		Logger:   e.logger,
	})
}
