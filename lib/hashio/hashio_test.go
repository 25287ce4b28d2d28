// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hashio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/blake2b"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

func TestSHA256File(t *testing.T) {
	content := make([]byte, 3*ChunkSize+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "engine.zip")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	if want := Digest(sha256.Sum256(content)); got != want {
		t.Errorf("SHA256File = %s, want %s", got, want)
	}
}

func TestSHA256FileNonexistent(t *testing.T) {
	if _, err := SHA256File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("SHA256File should fail for a missing file")
	}
}

func TestSumBLAKE2b256MatchesStreaming(t *testing.T) {
	data := []byte("Robust Content Manifest 1\n")
	hasher := NewBLAKE2b256()
	hasher.Write(data[:5])
	hasher.Write(data[5:])
	if SumOf(hasher) != SumBLAKE2b256(data) {
		t.Error("streaming and one-shot BLAKE2b-256 differ")
	}
	if SumBLAKE2b256(data) != Digest(blake2b.Sum256(data)) {
		t.Error("SumBLAKE2b256 does not match blake2b.Sum256")
	}
}

func TestParseDigest(t *testing.T) {
	original := SumBLAKE2b256([]byte("blob"))
	upper := strings.ToUpper(original.String())

	parsed, err := ParseDigest("  " + upper + "\n")
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != original {
		t.Errorf("ParseDigest(upper) = %s, want %s", parsed, original)
	}

	for _, input := range []string{"", "abcd", "zz" + original.String()[2:], original.String() + "00"} {
		if _, err := ParseDigest(input); err == nil {
			t.Errorf("ParseDigest(%q) should fail", input)
		}
	}
}

func TestEqualHex(t *testing.T) {
	if !EqualHex("ABCDEF", " abcdef\n") {
		t.Error("EqualHex should ignore case and whitespace")
	}
	if EqualHex("abcdef", "abcdee") {
		t.Error("EqualHex should detect differences")
	}
}

func TestCopyExact(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), ChunkSize/5)
	trailing := []byte("next-frame")
	source := bytes.NewReader(append(append([]byte{}, payload...), trailing...))

	var destination bytes.Buffer
	hasher := NewBLAKE2b256()
	written, err := CopyExact(context.Background(), &destination, source, int64(len(payload)), hasher)
	if err != nil {
		t.Fatalf("CopyExact: %v", err)
	}
	if written != int64(len(payload)) {
		t.Errorf("written = %d, want %d", written, len(payload))
	}
	if !bytes.Equal(destination.Bytes(), payload) {
		t.Error("destination does not match payload")
	}
	if SumOf(hasher) != SumBLAKE2b256(payload) {
		t.Error("hash does not match payload")
	}

	rest := make([]byte, len(trailing))
	if _, err := source.Read(rest); err != nil || !bytes.Equal(rest, trailing) {
		t.Errorf("CopyExact consumed past n: rest = %q, err = %v", rest, err)
	}
}

func TestCopyExactShortRead(t *testing.T) {
	var destination bytes.Buffer
	written, err := CopyExact(context.Background(), &destination, strings.NewReader("abc"), 10, nil)
	if !errors.Is(err, provisionerr.ErrShortRead) {
		t.Fatalf("CopyExact error = %v, want ErrShortRead", err)
	}
	if written != 3 {
		t.Errorf("written = %d, want 3", written)
	}
}

func TestCopyExactZeroLength(t *testing.T) {
	written, err := CopyExact(context.Background(), &bytes.Buffer{}, strings.NewReader(""), 0, nil)
	if err != nil || written != 0 {
		t.Errorf("CopyExact(0) = %d, %v", written, err)
	}
}

func TestCopyExactCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CopyExact(ctx, &bytes.Buffer{}, strings.NewReader("abc"), 3, nil)
	if !provisionerr.IsCancelled(err) {
		t.Fatalf("CopyExact error = %v, want cancellation", err)
	}
}

func TestDiscard(t *testing.T) {
	source := strings.NewReader("skipmekeep")
	if err := Discard(context.Background(), source, 6); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	rest := make([]byte, 4)
	source.Read(rest)
	if string(rest) != "keep" {
		t.Errorf("after Discard, rest = %q", rest)
	}
	if err := Discard(context.Background(), strings.NewReader("ab"), 5); !errors.Is(err, provisionerr.ErrShortRead) {
		t.Errorf("Discard past end = %v, want ErrShortRead", err)
	}
}

func TestHashingReaderWriter(t *testing.T) {
	data := []byte("engine archive bytes")

	reader := NewHashingReader(bytes.NewReader(data), sha256.New())
	var sink bytes.Buffer
	writer := NewHashingWriter(&sink, sha256.New())
	if _, err := writer.Write(mustReadAll(t, reader)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := Digest(sha256.Sum256(data))
	if reader.Sum() != want || writer.Sum() != want {
		t.Errorf("reader sum %s, writer sum %s, want %s", reader.Sum(), writer.Sum(), want)
	}
	if reader.Count() != int64(len(data)) || writer.Count() != int64(len(data)) {
		t.Errorf("counts = %d/%d, want %d", reader.Count(), writer.Count(), len(data))
	}
}

func mustReadAll(t *testing.T, reader *HashingReader) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(reader); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	return buffer.Bytes()
}
