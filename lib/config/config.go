// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load and LoadFile.
const (
	ConfigEnvironment      = "PROVISION_CONFIG"
	DataDirEnvironment     = "PROVISION_DATA_DIR"
	ConcurrencyEnvironment = "PROVISION_ACZ_DOWNLOAD_CONCURRENCY"
	BatchSizeEnvironment   = "PROVISION_ACZ_DOWNLOAD_BATCH_SIZE"
)

// Config is the master configuration.
type Config struct {
	// DataDir is the root of every cache: engines, content, the
	// overlay cache, and the blob cache.
	DataDir string `yaml:"data_dir"`

	// Engine configures engine build resolution.
	Engine EngineConfig `yaml:"engine"`

	// Download configures the incremental blob downloader.
	Download DownloadConfig `yaml:"download"`

	// HTTP configures timeouts and retry.
	HTTP HTTPConfig `yaml:"http"`
}

// EngineConfig configures engine build resolution and verification.
type EngineConfig struct {
	// ManifestURLs are the engine build manifest mirrors, tried in
	// order.
	ManifestURLs []string `yaml:"manifest_urls"`

	// PublicKeyPath is the PEM Ed25519 key engine archives are signed
	// with. Empty means signing_key inside DataDir.
	PublicKeyPath string `yaml:"public_key_path"`
}

// DownloadConfig configures the incremental blob downloader.
type DownloadConfig struct {
	// Concurrency is the maximum number of download workers.
	// Default: 8
	Concurrency int `yaml:"concurrency"`

	// BatchSize fixes the number of blobs per request. Zero sizes
	// batches from the number of missing blobs.
	BatchSize int `yaml:"batch_size"`
}

// HTTPConfig configures the HTTP clients.
type HTTPConfig struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// APITimeout bounds small requests: server info, manifests, and
	// protocol negotiation. Default: 20s
	APITimeout time.Duration `yaml:"api_timeout"`

	// DownloadTimeout bounds archive downloads and blob batches.
	// Default: 10m
	DownloadTimeout time.Duration `yaml:"download_timeout"`

	// MaxRetries is the number of retries for idempotent requests.
	// Zero uses the client default; negative disables retry.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultManifestURLs are the public engine build manifest mirrors.
var DefaultManifestURLs = []string{
	"https://robust-builds.cdn.spacestation14.com/manifest.json",
	"https://robust-builds.fallback.cdn.spacestation14.com/manifest.json",
}

// Default returns the production configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(homeDir, ".local", "share", "provision"),
		Engine: EngineConfig{
			ManifestURLs: append([]string(nil), DefaultManifestURLs...),
		},
		Download: DownloadConfig{
			Concurrency: 8,
		},
		HTTP: HTTPConfig{
			ConnectTimeout:  10 * time.Second,
			APITimeout:      20 * time.Second,
			DownloadTimeout: 10 * time.Minute,
		},
	}
}

// Load loads the file named by PROVISION_CONFIG, or returns Default
// with environment overrides applied when it is unset.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigEnvironment))
}

// LoadFile loads configuration from path on top of Default. An empty
// path loads nothing from disk.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	cfg.applyEnvironment()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile merges a YAML file into the current config. Unknown keys
// are rejected so a misspelled setting is not silently ignored.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvironment applies the documented environment overrides.
func (c *Config) applyEnvironment() {
	if dataDir := strings.TrimSpace(os.Getenv(DataDirEnvironment)); dataDir != "" {
		c.DataDir = dataDir
	}
	if value, ok := positiveEnvironment(ConcurrencyEnvironment); ok {
		c.Download.Concurrency = value
	}
	if value, ok := positiveEnvironment(BatchSizeEnvironment); ok {
		c.Download.BatchSize = value
	}
}

func positiveEnvironment(name string) (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.DataDir = expandVars(c.DataDir, vars)
	vars[DataDirEnvironment] = c.DataDir // Update for dependent paths.

	c.Engine.PublicKeyPath = expandVars(c.Engine.PublicKeyPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// PublicKeyPath returns the engine signing key location.
func (c *Config) PublicKeyPath() string {
	if c.Engine.PublicKeyPath != "" {
		return c.Engine.PublicKeyPath
	}
	return filepath.Join(c.DataDir, "signing_key")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}

	if len(c.Engine.ManifestURLs) == 0 {
		errs = append(errs, fmt.Errorf("engine.manifest_urls must list at least one mirror"))
	}
	for i, manifestURL := range c.Engine.ManifestURLs {
		if strings.TrimSpace(manifestURL) == "" {
			errs = append(errs, fmt.Errorf("engine.manifest_urls[%d] is empty", i))
		}
	}

	if c.Download.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("download.concurrency must not be negative"))
	}
	if c.Download.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("download.batch_size must not be negative"))
	}

	for name, timeout := range map[string]time.Duration{
		"http.connect_timeout":  c.HTTP.ConnectTimeout,
		"http.api_timeout":      c.HTTP.APITimeout,
		"http.download_timeout": c.HTTP.DownloadTimeout,
	} {
		if timeout < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the data directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.DataDir, err)
	}
	return nil
}
