// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enginebuild

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/provision/lib/codec"
	"github.com/bureau-foundation/provision/lib/download"
	"github.com/bureau-foundation/provision/lib/hashio"
	"github.com/bureau-foundation/provision/lib/progress"
	"github.com/bureau-foundation/provision/lib/provisionerr"
	"github.com/bureau-foundation/provision/lib/serverinfo"
)

const (
	// EnginesDirectory holds one subdirectory per resolved version.
	EnginesDirectory = "engines"

	// ArchiveName is the engine archive inside a version directory.
	ArchiveName = "engine.zip"

	// RecordName is the install record beside the archive.
	RecordName = "engine.cbor"
)

// installRecord is written after a verified install so a later launch
// can proceed while every manifest mirror is unreachable.
type installRecord struct {
	RequestedVersions []string `cbor:"requested_versions"`
	ResolvedVersion   string   `cbor:"resolved_version"`
	RID               string   `cbor:"rid"`
	URL               string   `cbor:"url"`
	SHA256            string   `cbor:"sha256"`
	Signature         string   `cbor:"signature"`
}

// InstallerOptions configures an Installer.
type InstallerOptions struct {
	// DataDir is the provisioning data root. Required.
	DataDir string

	// Resolver maps versions to builds. Required.
	Resolver *Resolver

	// Downloader fetches archives. Required.
	Downloader *download.Downloader

	// Reporter receives the verify stage. Nil discards.
	Reporter progress.Reporter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Installer keeps verified engine archives under DataDir/engines.
type Installer struct {
	dataDir    string
	resolver   *Resolver
	downloader *download.Downloader
	reporter   progress.Reporter
	logger     *slog.Logger
}

// NewInstaller returns an Installer.
func NewInstaller(options InstallerOptions) *Installer {
	installer := &Installer{
		dataDir:    options.DataDir,
		resolver:   options.Resolver,
		downloader: options.Downloader,
		reporter:   progress.OrNop(options.Reporter),
		logger:     options.Logger,
	}
	if installer.logger == nil {
		installer.logger = slog.Default()
	}
	return installer
}

// Install is an engine archive ready for launch.
type Install struct {
	ArchivePath string
	Build       ResolvedBuild

	// Offline is true when the manifest was unreachable and the
	// archive came from a previous install record.
	Offline bool
}

// Signature returns the hex signature the archive must verify against.
func (i *Install) Signature() string { return i.Build.Signature }

// VersionDirectory returns the directory a resolved version installs
// into.
func (i *Installer) VersionDirectory(resolvedVersion string) string {
	return filepath.Join(i.dataDir, EnginesDirectory, serverinfo.SanitizeKey(resolvedVersion))
}

// EnsureInstalled resolves version and makes its archive present with
// the SHA-256 the manifest lists. An existing archive is reused when
// its hash matches. On a mismatch the archive is downloaded once more;
// a second mismatch fails with provisionerr.ErrHashMismatch.
//
// When resolution fails with provisionerr.ErrManifestUnavailable and a
// previous install of version still hashes correctly, that install is
// returned with Offline set.
func (i *Installer) EnsureInstalled(ctx context.Context, version string) (*Install, error) {
	build, err := i.resolver.Resolve(ctx, version)
	if err != nil {
		if errors.Is(err, provisionerr.ErrManifestUnavailable) {
			if install := i.offlineInstall(version); install != nil {
				i.logger.Warn("engine manifest unavailable, using previous install",
					"version", version,
					"resolved", install.Build.ResolvedVersion,
					"path", install.ArchivePath,
					"error", err,
				)
				return install, nil
			}
		}
		return nil, err
	}

	directory := i.VersionDirectory(build.ResolvedVersion)
	archivePath := filepath.Join(directory, ArchiveName)

	actual, err := i.fetchIfMissing(ctx, build, archivePath)
	if err != nil {
		return nil, err
	}
	i.reporter.Stage(progress.StageVerifyEngine, build.ResolvedVersion)
	if !hashio.EqualHex(actual.String(), build.SHA256) {
		i.logger.Warn("engine archive hash mismatch, downloading again",
			"path", archivePath,
			"expected", build.SHA256,
			"actual", actual.String(),
		)
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, provisionerr.CacheIOf("remove engine archive", archivePath, err)
		}
		result, err := i.downloader.ToFile(ctx, build.URL, archivePath, progress.StageDownloadEngine)
		if err != nil {
			return nil, err
		}
		if !hashio.EqualHex(result.SHA256.String(), build.SHA256) {
			os.Remove(archivePath)
			return nil, provisionerr.Integrityf("verify engine archive", build.URL,
				"sha256 %s, manifest lists %s: %w", result.SHA256, build.SHA256, provisionerr.ErrHashMismatch)
		}
	}

	i.writeRecord(directory, build)
	return &Install{ArchivePath: archivePath, Build: *build}, nil
}

// fetchIfMissing returns the SHA-256 of archivePath, downloading it
// first when absent.
func (i *Installer) fetchIfMissing(ctx context.Context, build *ResolvedBuild, archivePath string) (hashio.Digest, error) {
	_, err := os.Stat(archivePath)
	switch {
	case err == nil:
		if err := provisionerr.CheckContext(ctx); err != nil {
			return hashio.Digest{}, err
		}
		digest, err := hashio.SHA256File(archivePath)
		if err != nil {
			return hashio.Digest{}, provisionerr.CacheIOf("hash engine archive", archivePath, err)
		}
		return digest, nil
	case errors.Is(err, fs.ErrNotExist):
		result, err := i.downloader.ToFile(ctx, build.URL, archivePath, progress.StageDownloadEngine)
		if err != nil {
			return hashio.Digest{}, err
		}
		return result.SHA256, nil
	default:
		return hashio.Digest{}, provisionerr.CacheIOf("stat engine archive", archivePath, err)
	}
}

func (i *Installer) writeRecord(directory string, build *ResolvedBuild) {
	path := filepath.Join(directory, RecordName)
	var record installRecord
	if err := codec.ReadFile(path, &record); err != nil || record.ResolvedVersion != build.ResolvedVersion {
		record = installRecord{}
	}
	if !slices.Contains(record.RequestedVersions, build.RequestedVersion) {
		record.RequestedVersions = append(record.RequestedVersions, build.RequestedVersion)
	}
	record.ResolvedVersion = build.ResolvedVersion
	record.RID = build.RID
	record.URL = build.URL
	record.SHA256 = build.SHA256
	record.Signature = build.Signature
	if err := codec.WriteFile(path, record); err != nil {
		i.logger.Warn("writing engine install record failed", "path", path, "error", err)
	}
}

// offlineInstall finds a previous install of version whose archive
// still matches its recorded hash.
func (i *Installer) offlineInstall(version string) *Install {
	records, err := filepath.Glob(filepath.Join(i.dataDir, EnginesDirectory, "*", RecordName))
	if err != nil {
		return nil
	}
	for _, path := range records {
		var record installRecord
		if err := codec.ReadFile(path, &record); err != nil {
			i.logger.Debug("skipping unreadable engine install record", "path", path, "error", err)
			continue
		}
		if record.ResolvedVersion != version && !slices.Contains(record.RequestedVersions, version) {
			continue
		}
		archivePath := filepath.Join(filepath.Dir(path), ArchiveName)
		digest, err := hashio.SHA256File(archivePath)
		if err != nil || !hashio.EqualHex(digest.String(), record.SHA256) {
			continue
		}
		return &Install{
			ArchivePath: archivePath,
			Offline:     true,
			Build: ResolvedBuild{
				RequestedVersion: version,
				ResolvedVersion:  record.ResolvedVersion,
				RID:              record.RID,
				URL:              record.URL,
				SHA256:           record.SHA256,
				Signature:        record.Signature,
			},
		}
	}
	return nil
}
