// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// clearEnvironment unsets every variable this package reads for the
// duration of the test.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{ConfigEnvironment, DataDirEnvironment, ConcurrencyEnvironment, BatchSizeEnvironment} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provision.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if !slices.Equal(cfg.Engine.ManifestURLs, DefaultManifestURLs) {
		t.Errorf("expected default mirrors, got %v", cfg.Engine.ManifestURLs)
	}
	if cfg.Download.Concurrency != 8 {
		t.Errorf("expected concurrency=8, got %d", cfg.Download.Concurrency)
	}
	if cfg.Download.BatchSize != 0 {
		t.Errorf("expected automatic batch size, got %d", cfg.Download.BatchSize)
	}
	if cfg.HTTP.DownloadTimeout != 10*time.Minute {
		t.Errorf("expected download_timeout=10m, got %v", cfg.HTTP.DownloadTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	// Mutating the defaults must not leak into the package variable.
	cfg.Engine.ManifestURLs[0] = "changed"
	if DefaultManifestURLs[0] == "changed" {
		t.Error("Default shares its mirror slice with DefaultManifestURLs")
	}
}

func TestLoadWithoutConfigUsesDefaults(t *testing.T) {
	clearEnvironment(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != Default().DataDir {
		t.Errorf("expected default data_dir, got %s", cfg.DataDir)
	}
}

func TestLoadWithProvisionConfig(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, `
data_dir: /test/data
engine:
  manifest_urls:
    - https://mirror.example/manifest.json
download:
  concurrency: 3
http:
  api_timeout: 5s
  max_retries: -1
`)
	t.Setenv(ConfigEnvironment, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != "/test/data" {
		t.Errorf("expected data_dir=/test/data, got %s", cfg.DataDir)
	}
	if !slices.Equal(cfg.Engine.ManifestURLs, []string{"https://mirror.example/manifest.json"}) {
		t.Errorf("expected the file's mirror list to replace the default, got %v", cfg.Engine.ManifestURLs)
	}
	if cfg.Download.Concurrency != 3 {
		t.Errorf("expected concurrency=3, got %d", cfg.Download.Concurrency)
	}
	if cfg.HTTP.APITimeout != 5*time.Second {
		t.Errorf("expected api_timeout=5s, got %v", cfg.HTTP.APITimeout)
	}
	// Unset fields keep their defaults.
	if cfg.HTTP.ConnectTimeout != 10*time.Second {
		t.Errorf("expected connect_timeout default, got %v", cfg.HTTP.ConnectTimeout)
	}
	if cfg.HTTP.MaxRetries != -1 {
		t.Errorf("expected max_retries=-1, got %d", cfg.HTTP.MaxRetries)
	}
	if cfg.PublicKeyPath() != "/test/data/signing_key" {
		t.Errorf("expected key inside data_dir, got %s", cfg.PublicKeyPath())
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearEnvironment(t)

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "data_dir: [unterminated")); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := LoadFile(writeConfig(t, "dta_dir: /typo\n")); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("empty file should load as defaults: %v", err)
	}
	if cfg.Download.Concurrency != 8 {
		t.Errorf("expected defaults from empty file, got concurrency=%d", cfg.Download.Concurrency)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
data_dir: /file/data
download:
  concurrency: 2
  batch_size: 100
`)

	tests := []struct {
		name            string
		env             map[string]string
		wantDataDir     string
		wantConcurrency int
		wantBatchSize   int
	}{
		{
			name:            "no overrides",
			env:             map[string]string{},
			wantDataDir:     "/file/data",
			wantConcurrency: 2,
			wantBatchSize:   100,
		},
		{
			name: "all overrides",
			env: map[string]string{
				DataDirEnvironment:     "/env/data",
				ConcurrencyEnvironment: "16",
				BatchSizeEnvironment:   " 512 ",
			},
			wantDataDir:     "/env/data",
			wantConcurrency: 16,
			wantBatchSize:   512,
		},
		{
			name: "invalid numbers are ignored",
			env: map[string]string{
				ConcurrencyEnvironment: "0",
				BatchSizeEnvironment:   "lots",
			},
			wantDataDir:     "/file/data",
			wantConcurrency: 2,
			wantBatchSize:   100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvironment(t)
			for name, value := range tt.env {
				t.Setenv(name, value)
			}
			cfg, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() failed: %v", err)
			}
			if cfg.DataDir != tt.wantDataDir {
				t.Errorf("data_dir = %s, want %s", cfg.DataDir, tt.wantDataDir)
			}
			if cfg.Download.Concurrency != tt.wantConcurrency {
				t.Errorf("concurrency = %d, want %d", cfg.Download.Concurrency, tt.wantConcurrency)
			}
			if cfg.Download.BatchSize != tt.wantBatchSize {
				t.Errorf("batch_size = %d, want %d", cfg.Download.BatchSize, tt.wantBatchSize)
			}
		})
	}
}

func TestPathExpansion(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("HOME", "/home/player")
	path := writeConfig(t, `
data_dir: ${HOME}/games/provision
engine:
  public_key_path: ${PROVISION_DATA_DIR}/keys/engine.pem
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.DataDir != "/home/player/games/provision" {
		t.Errorf("data_dir = %s", cfg.DataDir)
	}
	if cfg.PublicKeyPath() != "/home/player/games/provision/keys/engine.pem" {
		t.Errorf("public_key_path = %s", cfg.PublicKeyPath())
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/provision",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/provision",
		},
		{
			input:    "${PROVISION_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty data dir",
			modify:  func(c *Config) { c.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "no mirrors",
			modify:  func(c *Config) { c.Engine.ManifestURLs = nil },
			wantErr: true,
		},
		{
			name:    "blank mirror",
			modify:  func(c *Config) { c.Engine.ManifestURLs = []string{"https://a", " "} },
			wantErr: true,
		},
		{
			name:    "negative concurrency",
			modify:  func(c *Config) { c.Download.Concurrency = -1 },
			wantErr: true,
		},
		{
			name:    "negative batch size",
			modify:  func(c *Config) { c.Download.BatchSize = -1 },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			modify:  func(c *Config) { c.HTTP.APITimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative retries disable retry",
			modify:  func(c *Config) { c.HTTP.MaxRetries = -1 },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths() failed: %v", err)
	}
	if info, err := os.Stat(cfg.DataDir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
}
