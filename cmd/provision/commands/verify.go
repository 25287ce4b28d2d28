// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/lib/provisionerr"
	"github.com/bureau-foundation/provision/lib/signature"
)

func verifyCommand(globals *globalOptions) *cli.Command {
	var (
		archivePath   string
		signatureHex  string
		publicKeyPath string
	)
	return &cli.Command{
		Name:    "verify",
		Summary: "Check an archive's Ed25519 signature",
		Description: `Check an archive's detached Ed25519 signature (hex) against a PEM
public key. Exits 1 without further output beyond the verdict when the
signature does not verify.`,
		Usage: "provision verify --archive <file> --signature <hex> [--public-key <pem>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&archivePath, "archive", "", "archive file (required)")
			flagSet.StringVar(&signatureHex, "signature", "", "hex-encoded signature (required)")
			flagSet.StringVar(&publicKeyPath, "public-key", "", "PEM public key (default: the configured engine signing key)")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if archivePath == "" || signatureHex == "" {
				return errors.New("--archive and --signature are required")
			}
			if publicKeyPath == "" {
				env, err := globals.environment()
				if err != nil {
					return err
				}
				publicKeyPath = env.config.PublicKeyPath()
			}

			err := signature.VerifyFile(archivePath, signatureHex, publicKeyPath)
			if errors.Is(err, provisionerr.ErrSignatureInvalid) {
				fmt.Fprintf(globals.stdout, "%s %v\n", cli.Warning("invalid:"), err)
				return &cli.ExitError{Code: 1}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(globals.stdout, "%s %s\n", cli.Success("valid:"), archivePath)
			return nil
		},
	}
}
