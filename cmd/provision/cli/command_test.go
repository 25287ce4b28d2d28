// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "provision",
		Subcommands: []*Command{
			{
				Name: "verify",
				Run: func(_ context.Context, args []string) error {
					called = "verify"
					return nil
				},
			},
			{
				Name: "fetch",
				Run: func(_ context.Context, args []string) error {
					called = "fetch"
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"fetch"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "fetch" {
		t.Errorf("dispatched to %q, want %q", called, "fetch")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var receivedArgs []string

	root := &Command{
		Name: "provision",
		Subcommands: []*Command{
			{
				Name: "engine",
				Subcommands: []*Command{
					{
						Name: "install",
						Run: func(_ context.Context, args []string) error {
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"engine", "install", "210.1.0"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "210.1.0" {
		t.Errorf("args = %v, want [210.1.0]", receivedArgs)
	}
}

func TestCommand_Execute_GlobalFlagsBeforeSubcommand(t *testing.T) {
	var (
		dataDir string
		json    bool
		args    []string
	)

	root := &Command{
		Name: "provision",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("provision", pflag.ContinueOnError)
			flagSet.StringVar(&dataDir, "data-dir", "", "data directory")
			return flagSet
		},
		Subcommands: []*Command{
			{
				Name: "list",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
					flagSet.BoolVar(&json, "json", false, "output as JSON")
					return flagSet
				},
				Run: func(_ context.Context, remaining []string) error {
					args = remaining
					return nil
				},
			},
		},
	}

	err := root.Execute(context.Background(), []string{"--data-dir", "/tmp/data", "list", "extra", "--json"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if dataDir != "/tmp/data" {
		t.Errorf("data-dir = %q", dataDir)
	}
	if !json {
		t.Error("--json after a positional was not parsed by the subcommand")
	}
	if len(args) != 1 || args[0] != "extra" {
		t.Errorf("args = %v, want [extra]", args)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggests(t *testing.T) {
	root := &Command{
		Name: "provision",
		Subcommands: []*Command{
			{Name: "fetch", Run: func(context.Context, []string) error { return nil }},
			{Name: "verify", Run: func(context.Context, []string) error { return nil }},
		},
	}

	err := root.Execute(context.Background(), []string{"fecth"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "fetch"`) {
		t.Errorf("error = %q, want suggestion for fetch", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "content",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("content", pflag.ContinueOnError)
			flagSet.String("descriptor", "", "build descriptor")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--descriptr", "x.json"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --descriptor?") {
		t.Errorf("error = %q, want suggestion for --descriptor", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "engine",
		Subcommands: []*Command{{Name: "list", Run: func(context.Context, []string) error { return nil }}},
	}
	if err := root.Execute(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %v, want subcommand required", err)
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{
		Name:        "provision",
		Description: "Provision game client assets.",
		Subcommands: []*Command{
			{Name: "fetch", Summary: "Provision everything needed to join a server"},
		},
		Examples: []Example{{Description: "Join a server", Command: "provision fetch ss14://example.org"}},
	}

	var buffer bytes.Buffer
	root.PrintHelp(&buffer)
	output := buffer.String()
	for _, want := range []string{
		"Provision game client assets.",
		"Usage:\n  provision <command> [flags]",
		"fetch",
		"Provision everything needed to join a server",
		"# Join a server",
		"Run 'provision <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q:\n%s", want, output)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"fetch", "fetch", 0},
		{"fetch", "fecth", 2},
		{"", "abc", 3},
		{"verify", "verfy", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
