// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the provision CLI command tree.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/lib/config"
	"github.com/bureau-foundation/provision/lib/version"
)

// Root builds the command tree writing to the process's stdout and
// stderr.
func Root() *cli.Command {
	return newRoot(&globalOptions{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		terminal: cli.IsTerminal(os.Stderr),
	})
}

func newRoot(globals *globalOptions) *cli.Command {
	root := &cli.Command{
		Name: "provision",
		Description: `provision: game client asset provisioning.

Resolves and installs signed engine builds and acquires server content
archives, either as one download or incrementally from a content
manifest backed by a local blob cache.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("provision", pflag.ContinueOnError)
			flagSet.StringVar(&globals.configPath, "config", "",
				fmt.Sprintf("configuration file (default: $%s, else built-in defaults)", config.ConfigEnvironment))
			flagSet.StringVar(&globals.dataDir, "data-dir", "", "data directory holding engines, content, and the blob cache")
			flagSet.BoolVarP(&globals.verbose, "verbose", "v", false, "log at debug level, including transfer progress")
			flagSet.BoolVar(&globals.showVersion, "version", false, "print version information and exit")
			return flagSet
		},
		Subcommands: []*cli.Command{
			engineCommand(globals),
			contentCommand(globals),
			fetchCommand(globals),
			verifyCommand(globals),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string) error {
					fmt.Fprintf(globals.stdout, "provision %s\n", version.Full())
					return nil
				},
			},
		},
	}
	root.Run = func(_ context.Context, args []string) error {
		if globals.showVersion {
			fmt.Fprintf(globals.stdout, "provision %s\n", version.Info())
			return nil
		}
		root.PrintHelp(globals.stderr)
		if len(args) > 0 {
			return fmt.Errorf("unknown command %q\n\nRun 'provision --help' for usage.", args[0])
		}
		return fmt.Errorf("subcommand required")
	}
	return root
}
