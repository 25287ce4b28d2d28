// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/lib/contentinstall"
	"github.com/bureau-foundation/provision/lib/enginebuild"
	"github.com/bureau-foundation/provision/lib/provisionerr"
	"github.com/bureau-foundation/provision/lib/serverinfo"
	"github.com/bureau-foundation/provision/lib/signature"
)

// fetchResult is everything needed to launch a client against a server.
type fetchResult struct {
	ConnectAddress string        `json:"connect_address"`
	Engine         installOutput `json:"engine"`
	Content        overlayOutput `json:"content"`
}

// acquire runs content and engine acquisition concurrently. The first
// failure cancels the other; its error is the one returned.
func acquire(ctx context.Context, env *environment, build *serverinfo.BuildDescriptor, fallbackURL string) (*enginebuild.Install, *contentinstall.Overlay, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		install    *enginebuild.Install
		overlay    *contentinstall.Overlay
		engineErr  error
		contentErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		install, engineErr = env.installer().EnsureInstalled(ctx, build.EngineVersion)
		if engineErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		overlay, contentErr = env.coordinator().EnsureOverlay(ctx, build, fallbackURL)
		if contentErr != nil {
			cancel()
		}
	}()
	wg.Wait()

	return install, overlay, firstFailure(engineErr, contentErr)
}

// firstFailure prefers an error that is not a cancellation, so the
// failure that triggered cancel is reported rather than its echo.
func firstFailure(errs ...error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !provisionerr.IsCancelled(err) {
			return err
		}
		if cancelled == nil {
			cancelled = err
		}
	}
	return cancelled
}

func fetchCommand(globals *globalOptions) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "fetch",
		Summary: "Provision everything needed to join a server",
		Description: `Read a server's /info document, then install the engine version it
requires and acquire its content archive in parallel. The engine
archive's signature is verified before the paths are printed.

The address may be ss14://host[:port] (plain HTTP API, default port
1212), ss14s://host (HTTPS API), or a bare host.`,
		Usage: "provision fetch <address> [flags]",
		Examples: []cli.Example{
			{Description: "Provision a server", Command: "provision fetch ss14://game.example.org"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one server address is required")
			}
			address, err := serverinfo.ParseAddress(args[0])
			if err != nil {
				return err
			}
			env, err := globals.environment()
			if err != nil {
				return err
			}

			info, err := serverinfo.FetchInfo(ctx, env.apiClient, address)
			if err != nil {
				return err
			}
			if info.Build == nil || strings.TrimSpace(info.Build.EngineVersion) == "" {
				return errors.New("server info has no build or engine version")
			}
			build := info.Build
			if err := build.FillDefaults(address); err != nil {
				return fmt.Errorf("inferring content URLs: %w", err)
			}
			fallbackURL, err := serverinfo.SelfHostedClientZipURL(address)
			if err != nil {
				return err
			}
			infoURL, err := serverinfo.InfoURL(address)
			if err != nil {
				return err
			}
			connectAddress, err := serverinfo.ConnectAddress(info, infoURL)
			if err != nil {
				return err
			}

			install, overlay, err := acquire(ctx, env, build, fallbackURL)
			if err != nil {
				return err
			}
			if err := signature.Enforce(env.logger, install.ArchivePath, install.Signature(), env.config.PublicKeyPath()); err != nil {
				return err
			}

			result := fetchResult{
				ConnectAddress: connectAddress,
				Engine: installOutput{
					buildOutput: newBuildOutput(&install.Build),
					ArchivePath: install.ArchivePath,
					Offline:     install.Offline,
					Verified:    true,
				},
				Content: newOverlayOutput(overlay),
			}
			if outputJSON {
				return cli.WriteJSON(globals.stdout, result)
			}
			fields := []cli.Field{
				{Label: "Connect", Value: connectAddress},
				{Label: "Engine", Value: install.ArchivePath},
			}
			return cli.WriteFields(globals.stdout, append(fields, overlayFields(overlay)...)...)
		},
	}
}
