// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature verifies engine archives against the Ed25519
// signature published in the engine build manifest.
//
// The trusted public key ships with the installation as a PEM file
// holding a PKIX SubjectPublicKeyInfo. Verification is strict: on top
// of the standard check (which already rejects non-canonical S), keys
// and R values of small order are refused, so a signature cannot be
// satisfied by degenerate points.
//
// A debug escape hatch exists for engine developers running unsigned
// builds. [AllowBypass] is true only in binaries built with the
// provisiondebug tag AND run with PROVISION_DISABLE_SIGNING set to 1
// or true. Release builds compile it to a constant false.
package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// BypassEnvironment is the opt-in variable for debug builds.
const BypassEnvironment = "PROVISION_DISABLE_SIGNING"

// smallOrderEncodings are the encodings of the eight points of small
// order on edwards25519, plus the non-canonical sign-bit variants
// that decode to them.
var smallOrderEncodings = mustDecodeAll(
	"0100000000000000000000000000000000000000000000000000000000000000",
	"ecffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff7f",
	"0000000000000000000000000000000000000000000000000000000000000000",
	"0000000000000000000000000000000000000000000000000000000000000080",
	"26e8958fc2b227b045c3f489f2ef98f0d5dfac05d3c63339b13802886d53fc05",
	"26e8958fc2b227b045c3f489f2ef98f0d5dfac05d3c63339b13802886d53fc85",
	"c7176a703d4dd84fba3c0b760d10670f2a2053fa2c39ccc64ec7fd7792ac037a",
	"c7176a703d4dd84fba3c0b760d10670f2a2053fa2c39ccc64ec7fd7792ac03fa",
	"0100000000000000000000000000000000000000000000000000000000000080",
	"ecffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
)

func mustDecodeAll(values ...string) [][]byte {
	decoded := make([][]byte, len(values))
	for i, value := range values {
		raw, err := hex.DecodeString(value)
		if err != nil {
			panic("signature: bad small-order constant: " + err.Error())
		}
		decoded[i] = raw
	}
	return decoded
}

func isSmallOrder(encoding []byte) bool {
	for _, candidate := range smallOrderEncodings {
		if bytes.Equal(encoding, candidate) {
			return true
		}
	}
	return false
}

// ParsePublicKeyPEM decodes a PEM-wrapped Ed25519 public key. Armor
// lines are dropped, the rest is joined and base64-decoded to DER.
// Headers inside the armor are not supported.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	var encoded strings.Builder
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----BEGIN") || strings.HasPrefix(line, "-----END") {
			continue
		}
		encoded.WriteString(line)
	}
	if encoded.Len() == 0 {
		return nil, errors.New("public key PEM is empty")
	}

	der, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, fmt.Errorf("decoding public key base64: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key DER: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not Ed25519", parsed)
	}
	return key, nil
}

// Verify checks signatureHex over archive with the PEM public key.
// Any failure to accept the signature wraps
// provisionerr.ErrSignatureInvalid; a malformed key does not, since
// that is a broken installation rather than a bad archive.
func Verify(archive []byte, signatureHex string, publicKeyPEM []byte) error {
	key, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return err
	}
	return verifyWithKey(key, archive, signatureHex)
}

func verifyWithKey(key ed25519.PublicKey, archive []byte, signatureHex string) error {
	signature, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return fmt.Errorf("decoding signature hex: %v: %w", err, provisionerr.ErrSignatureInvalid)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature is %d bytes, want %d: %w", len(signature), ed25519.SignatureSize, provisionerr.ErrSignatureInvalid)
	}
	if isSmallOrder(key) {
		return fmt.Errorf("public key is a small-order point: %w", provisionerr.ErrSignatureInvalid)
	}
	if isSmallOrder(signature[:32]) {
		return fmt.Errorf("signature R is a small-order point: %w", provisionerr.ErrSignatureInvalid)
	}
	if !ed25519.Verify(key, archive, signature) {
		return fmt.Errorf("signature does not match archive: %w", provisionerr.ErrSignatureInvalid)
	}
	return nil
}

// VerifyFile reads the archive and key from disk and calls Verify.
func VerifyFile(archivePath, signatureHex, publicKeyPath string) error {
	keyPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return fmt.Errorf("reading public key: %w", err)
	}
	key, err := ParsePublicKeyPEM(keyPEM)
	if err != nil {
		return fmt.Errorf("public key %s: %w", publicKeyPath, err)
	}
	archive, err := os.ReadFile(archivePath)
	if err != nil {
		return provisionerr.CacheIOf("read archive", archivePath, err)
	}
	if err := verifyWithKey(key, archive, signatureHex); err != nil {
		return fmt.Errorf("archive %s: %w", archivePath, err)
	}
	return nil
}

// DebugBuild reports whether the binary was built with the
// provisiondebug tag.
func DebugBuild() bool { return debugBuild }

// AllowBypass reports whether a failed verification may be ignored.
// Always false outside provisiondebug builds.
func AllowBypass() bool {
	if !debugBuild {
		return false
	}
	value := strings.TrimSpace(os.Getenv(BypassEnvironment))
	return value == "1" || strings.EqualFold(value, "true")
}

// Enforce runs VerifyFile and, when verification fails and
// AllowBypass is true, logs the failure and returns nil.
func Enforce(logger *slog.Logger, archivePath, signatureHex, publicKeyPath string) error {
	err := VerifyFile(archivePath, signatureHex, publicKeyPath)
	if err == nil || !AllowBypass() {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("engine signature verification failed, continuing because signing is disabled in this debug build",
		"archive", archivePath,
		"error", err,
	)
	return nil
}
