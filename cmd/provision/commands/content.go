// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/lib/contentinstall"
	"github.com/bureau-foundation/provision/lib/serverinfo"
)

// readDescriptor decodes a BuildDescriptor from a JSON file. Comments
// and trailing commas are allowed.
func readDescriptor(path string) (*serverinfo.BuildDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading build descriptor: %w", err)
	}
	var build serverinfo.BuildDescriptor
	if err := json.Unmarshal(jsonc.ToJSON(data), &build); err != nil {
		return nil, fmt.Errorf("parsing build descriptor %s: %w", path, err)
	}
	return &build, nil
}

// overlayOutput is the JSON form of an acquired content archive.
type overlayOutput struct {
	Path            string `json:"path"`
	Source          string `json:"source"`
	ManifestHash    string `json:"manifest_hash,omitempty"`
	Entries         int    `json:"entries,omitempty"`
	UniqueBlobs     int    `json:"unique_blobs,omitempty"`
	DownloadedBlobs int    `json:"downloaded_blobs,omitempty"`
	Bytes           int64  `json:"bytes,omitempty"`
}

func newOverlayOutput(overlay *contentinstall.Overlay) overlayOutput {
	output := overlayOutput{Path: overlay.Path, Source: overlay.Source.String()}
	if overlay.Sync != nil {
		output.ManifestHash = overlay.Sync.ManifestHash
		output.Entries = overlay.Sync.Entries
		output.UniqueBlobs = overlay.Sync.UniqueBlobs
		output.DownloadedBlobs = overlay.Sync.DownloadedBlobs
		output.Bytes = overlay.Sync.Bytes
	}
	return output
}

func overlayFields(overlay *contentinstall.Overlay) []cli.Field {
	fields := []cli.Field{
		{Label: "Content", Value: overlay.Path},
		{Label: "Source", Value: overlay.Source.String()},
	}
	if sync := overlay.Sync; sync != nil {
		fields = append(fields,
			cli.Field{Label: "Manifest", Value: sync.ManifestHash},
			cli.Field{Label: "Files", Value: strconv.Itoa(sync.Entries) + " (" + strconv.Itoa(sync.UniqueBlobs) + " unique)"},
			cli.Field{Label: "Fetched", Value: strconv.Itoa(sync.DownloadedBlobs) + " blobs, " + humanize.IBytes(uint64(sync.Bytes))},
		)
	}
	return fields
}

func contentCommand(globals *globalOptions) *cli.Command {
	var (
		descriptorPath string
		fallbackURL    string
		outputJSON     bool
	)
	return &cli.Command{
		Name:    "content",
		Summary: "Acquire the content archive for a build descriptor",
		Description: `Acquire the content archive for a build descriptor file (the "build"
object of a server's /info document, JSON with comments allowed).

The archive is reused from the data directory when present. Otherwise
it is downloaded, and when the download is refused for authorization
reasons and the descriptor names a content manifest, it is assembled
incrementally from the blob cache.`,
		Usage: "provision content --descriptor <file> [flags]",
		Examples: []cli.Example{
			{
				Description: "Acquire content, retrying a refused CDN download from the server itself",
				Command:     "provision content --descriptor build.jsonc --fallback-url https://game.example.org/client.zip",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("content", pflag.ContinueOnError)
			flagSet.StringVarP(&descriptorPath, "descriptor", "d", "", "build descriptor file (required)")
			flagSet.StringVar(&fallbackURL, "fallback-url", "", "archive URL to try when the CDN refuses the download")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if descriptorPath == "" {
				return errors.New("--descriptor is required")
			}
			build, err := readDescriptor(descriptorPath)
			if err != nil {
				return err
			}
			env, err := globals.environment()
			if err != nil {
				return err
			}
			overlay, err := env.coordinator().EnsureOverlay(ctx, build, fallbackURL)
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(globals.stdout, newOverlayOutput(overlay))
			}
			return cli.WriteFields(globals.stdout, overlayFields(overlay)...)
		},
	}
}
