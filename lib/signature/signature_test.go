// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

func encodePublicKey(t *testing.T, key any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func newKeyPair(t *testing.T) (ed25519.PrivateKey, []byte) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return private, encodePublicKey(t, public)
}

func TestVerify(t *testing.T) {
	private, publicPEM := newKeyPair(t)
	archive := []byte("engine archive bytes")
	signature := hex.EncodeToString(ed25519.Sign(private, archive))

	if err := Verify(archive, signature, publicPEM); err != nil {
		t.Fatalf("Verify valid signature: %v", err)
	}
	if err := Verify(archive, "  "+strings.ToUpper(signature)+"\n", publicPEM); err != nil {
		t.Fatalf("Verify upper-case padded signature: %v", err)
	}

	tampered := append([]byte(nil), archive...)
	tampered[0] ^= 1
	err := Verify(tampered, signature, publicPEM)
	if !errors.Is(err, provisionerr.ErrSignatureInvalid) || provisionerr.KindOf(err) != provisionerr.Integrity {
		t.Fatalf("Verify tampered archive = %v, want integrity failure", err)
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	_, publicPEM := newKeyPair(t)
	for name, signature := range map[string]string{
		"not hex":   "zz",
		"too short": "abcd",
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			if err := Verify([]byte("archive"), signature, publicPEM); !errors.Is(err, provisionerr.ErrSignatureInvalid) {
				t.Errorf("Verify = %v, want ErrSignatureInvalid", err)
			}
		})
	}
}

func TestVerifyRejectsSmallOrderKey(t *testing.T) {
	smallOrder, err := hex.DecodeString("0100000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	publicPEM := encodePublicKey(t, ed25519.PublicKey(smallOrder))
	signature := strings.Repeat("00", ed25519.SignatureSize)
	if err := Verify([]byte("anything"), signature, publicPEM); !errors.Is(err, provisionerr.ErrSignatureInvalid) {
		t.Fatalf("Verify with identity key = %v, want ErrSignatureInvalid", err)
	}
}

func TestParsePublicKeyPEM(t *testing.T) {
	_, publicPEM := newKeyPair(t)

	// Extra blank lines and CRLF endings are tolerated.
	messy := strings.ReplaceAll(string(publicPEM), "\n", "\r\n\r\n")
	if _, err := ParsePublicKeyPEM([]byte(messy)); err != nil {
		t.Errorf("ParsePublicKeyPEM with CRLF: %v", err)
	}

	if _, err := ParsePublicKeyPEM([]byte("-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----\n")); err == nil {
		t.Error("empty PEM parsed")
	}

	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating ecdsa key: %v", err)
	}
	_, err = ParsePublicKeyPEM(encodePublicKey(t, &ecdsaKey.PublicKey))
	if err == nil || errors.Is(err, provisionerr.ErrSignatureInvalid) {
		t.Errorf("ParsePublicKeyPEM(ecdsa) = %v, want a key error", err)
	}
}

func TestVerifyFile(t *testing.T) {
	private, publicPEM := newKeyPair(t)
	directory := t.TempDir()
	archivePath := filepath.Join(directory, "engine.zip")
	keyPath := filepath.Join(directory, "signing_key")
	archive := []byte("zip bytes")
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, publicPEM, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := VerifyFile(archivePath, hex.EncodeToString(ed25519.Sign(private, archive)), keyPath); err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if err := VerifyFile(archivePath, hex.EncodeToString(ed25519.Sign(private, []byte("other"))), keyPath); !errors.Is(err, provisionerr.ErrSignatureInvalid) {
		t.Fatalf("VerifyFile wrong signature = %v", err)
	}
}
