// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/lib/enginebuild"
	"github.com/bureau-foundation/provision/lib/signature"
)

func engineCommand(globals *globalOptions) *cli.Command {
	return &cli.Command{
		Name:    "engine",
		Summary: "Resolve, install, and list engine builds",
		Description: `Resolve, install, and list engine builds from the engine build
manifest. Versions follow manifest redirects and are matched to this
host's runtime identifier.`,
		Subcommands: []*cli.Command{
			engineResolveCommand(globals),
			engineInstallCommand(globals),
			engineListCommand(globals),
		},
	}
}

// buildOutput is the JSON form of a resolved build.
type buildOutput struct {
	RequestedVersion string `json:"requested_version"`
	ResolvedVersion  string `json:"resolved_version"`
	RID              string `json:"rid"`
	URL              string `json:"url"`
	SHA256           string `json:"sha256"`
	Signature        string `json:"signature"`
}

func newBuildOutput(build *enginebuild.ResolvedBuild) buildOutput {
	return buildOutput{
		RequestedVersion: build.RequestedVersion,
		ResolvedVersion:  build.ResolvedVersion,
		RID:              build.RID,
		URL:              build.URL,
		SHA256:           build.SHA256,
		Signature:        build.Signature,
	}
}

func buildFields(build *enginebuild.ResolvedBuild) []cli.Field {
	resolved := build.ResolvedVersion
	if resolved != build.RequestedVersion {
		resolved += " (from " + build.RequestedVersion + ")"
	}
	return []cli.Field{
		{Label: "Version", Value: resolved},
		{Label: "RID", Value: build.RID},
		{Label: "URL", Value: build.URL},
		{Label: "SHA-256", Value: build.SHA256},
	}
}

func singleVersion(args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", errors.New("exactly one engine version is required")
	}
	return strings.TrimSpace(args[0]), nil
}

func engineResolveCommand(globals *globalOptions) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "resolve",
		Summary: "Show the build a version resolves to on this host",
		Usage:   "provision engine resolve <version> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			requested, err := singleVersion(args)
			if err != nil {
				return err
			}
			env, err := globals.environment()
			if err != nil {
				return err
			}
			build, err := env.resolver().Resolve(ctx, requested)
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(globals.stdout, newBuildOutput(build))
			}
			return cli.WriteFields(globals.stdout, buildFields(build)...)
		},
	}
}

// installOutput is the JSON form of an engine install.
type installOutput struct {
	buildOutput
	ArchivePath string `json:"archive_path"`
	Offline     bool   `json:"offline"`
	Verified    bool   `json:"verified"`
}

func engineInstallCommand(globals *globalOptions) *cli.Command {
	var (
		outputJSON bool
		skipVerify bool
	)
	return &cli.Command{
		Name:    "install",
		Summary: "Download and verify an engine build",
		Description: `Make the engine archive for a version present in the data directory.
An existing archive is reused when its SHA-256 matches the manifest.
The archive's Ed25519 signature is then checked against the configured
public key. Debug builds (tag provisiondebug) accept --skip-verify to
omit the check; release builds reject the flag.`,
		Usage: "provision engine install <version> [flags]",
		Examples: []cli.Example{
			{Description: "Install the engine a server requires", Command: "provision engine install 210.1.0"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolVar(&skipVerify, "skip-verify", false, "do not check the archive signature (debug builds only)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if skipVerify && !signature.DebugBuild() {
				return errors.New("--skip-verify is only available in provisiondebug builds")
			}
			requested, err := singleVersion(args)
			if err != nil {
				return err
			}
			env, err := globals.environment()
			if err != nil {
				return err
			}
			install, err := env.installer().EnsureInstalled(ctx, requested)
			if err != nil {
				return err
			}
			if !skipVerify {
				if err := signature.Enforce(env.logger, install.ArchivePath, install.Signature(), env.config.PublicKeyPath()); err != nil {
					return err
				}
			}

			if outputJSON {
				return cli.WriteJSON(globals.stdout, installOutput{
					buildOutput: newBuildOutput(&install.Build),
					ArchivePath: install.ArchivePath,
					Offline:     install.Offline,
					Verified:    !skipVerify,
				})
			}
			fields := append(buildFields(&install.Build), cli.Field{Label: "Archive", Value: install.ArchivePath})
			if install.Offline {
				fields = append(fields, cli.Field{Label: "Source", Value: cli.Warning("previous install (manifest unavailable)")})
			}
			if !skipVerify {
				fields = append(fields, cli.Field{Label: "Signature", Value: cli.Success("valid")})
			}
			return cli.WriteFields(globals.stdout, fields...)
		},
	}
}

// versionEntry is one row of "engine list".
type versionEntry struct {
	Version   string `json:"version"`
	Latest    bool   `json:"latest,omitempty"`
	Insecure  bool   `json:"insecure,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
	Available bool   `json:"available"`
}

// listVersions returns the manifest's versions newest first. Available
// means the version has a build for one of candidates.
func listVersions(manifest enginebuild.Manifest, candidates []string) []versionEntry {
	latest, _ := manifest.Latest(candidates)
	var entries []versionEntry
	for _, key := range manifest.Versions() {
		info := manifest[key]
		entry := versionEntry{Version: key, Latest: key == latest}
		if info != nil {
			entry.Insecure = info.Insecure
			entry.Redirect = info.Redirect
			for _, rid := range candidates {
				if _, ok := info.Platforms.Lookup(rid); ok {
					entry.Available = true
					break
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func engineListCommand(globals *globalOptions) *cli.Command {
	var (
		outputJSON bool
		limit      int
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List engine versions in the manifest",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.IntVarP(&limit, "limit", "n", 20, "show at most this many versions (0 for all)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			env, err := globals.environment()
			if err != nil {
				return err
			}
			resolver := env.resolver()
			manifest, err := resolver.FetchManifest(ctx)
			if err != nil {
				return err
			}
			entries := listVersions(manifest, resolver.Candidates())
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if outputJSON {
				return cli.WriteJSON(globals.stdout, entries)
			}
			for _, entry := range entries {
				var notes []string
				if entry.Latest {
					notes = append(notes, cli.Success("latest"))
				}
				if entry.Insecure {
					notes = append(notes, cli.Warning("insecure"))
				}
				if entry.Redirect != "" {
					notes = append(notes, "-> "+entry.Redirect)
				} else if !entry.Available {
					notes = append(notes, "no build for this host")
				}
				fmt.Fprintf(globals.stdout, "%s\t%s\n", entry.Version, strings.Join(notes, ", "))
			}
			return nil
		},
	}
}
