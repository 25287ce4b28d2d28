// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hashio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// ChunkSize is the internal read size of CopyExact and Discard. The
// context is checked once per chunk.
const ChunkSize = 64 * 1024

// Digest is a 32-byte hash value (SHA-256 or BLAKE2b-256).
type Digest [32]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// NewBLAKE2b256 returns an unkeyed BLAKE2b hasher with a 32-byte
// output.
func NewBLAKE2b256() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	hasher, err := blake2b.New256(nil)
	if err != nil {
		panic("hashio: BLAKE2b-256 initialization failed: " + err.Error())
	}
	return hasher
}

// SumBLAKE2b256 returns the unkeyed BLAKE2b-256 digest of data.
func SumBLAKE2b256(data []byte) Digest {
	return blake2b.Sum256(data)
}

// SumOf extracts the 32-byte digest from a hasher created by
// NewBLAKE2b256 or sha256.New.
func SumOf(hasher hash.Hash) Digest {
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// SHA256File computes the SHA-256 digest of the file at path. The file
// is streamed through the hash in ChunkSize pieces so memory use does
// not depend on file size.
func SHA256File(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buffer := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(hasher, file, buffer); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return SumOf(hasher), nil
}

// ParseDigest parses a 64-character hex string (either case) into a
// Digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(strings.TrimSpace(hexString))
	if err != nil {
		return digest, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("hash digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// EqualHex compares two hex digest strings case-insensitively after
// trimming whitespace.
func EqualHex(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CopyExact copies exactly n bytes from src to dst. Every byte copied
// is also written to hasher when it is non-nil. The context is checked
// before each chunk; cancellation returns a provisionerr Cancelled
// error. If src ends before n bytes, the error wraps
// provisionerr.ErrShortRead. The returned count is the number of bytes
// written to dst.
func CopyExact(ctx context.Context, dst io.Writer, src io.Reader, n int64, hasher hash.Hash) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("copy length %d is negative: %w", n, provisionerr.ErrShortRead)
	}
	buffer := make([]byte, min(n, ChunkSize))
	var done int64
	for done < n {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return done, err
		}
		want := min(n-done, int64(len(buffer)))
		read, err := io.ReadFull(src, buffer[:want])
		if read > 0 {
			if hasher != nil {
				hasher.Write(buffer[:read])
			}
			if dst != nil {
				if _, writeErr := dst.Write(buffer[:read]); writeErr != nil {
					return done, fmt.Errorf("writing payload: %w", writeErr)
				}
			}
			done += int64(read)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return done, fmt.Errorf("payload ended after %d of %d bytes: %w", done, n, provisionerr.ErrShortRead)
			}
			return done, fmt.Errorf("reading payload: %w", err)
		}
	}
	return done, nil
}

// Discard reads and drops exactly n bytes from src with the same
// cancellation and short-read semantics as CopyExact.
func Discard(ctx context.Context, src io.Reader, n int64) error {
	_, err := CopyExact(ctx, nil, src, n, nil)
	return err
}

// HashingReader passes reads through to an underlying reader and
// accumulates every byte into a hasher.
type HashingReader struct {
	reader io.Reader
	hasher hash.Hash
	count  int64
}

// NewHashingReader wraps r so that everything read is hashed.
func NewHashingReader(r io.Reader, hasher hash.Hash) *HashingReader {
	return &HashingReader{reader: r, hasher: hasher}
}

func (h *HashingReader) Read(p []byte) (int, error) {
	n, err := h.reader.Read(p)
	if n > 0 {
		h.hasher.Write(p[:n])
		h.count += int64(n)
	}
	return n, err
}

// Sum returns the digest of everything read so far.
func (h *HashingReader) Sum() Digest { return SumOf(h.hasher) }

// Count returns the number of bytes read so far.
func (h *HashingReader) Count() int64 { return h.count }

// HashingWriter passes writes through to an underlying writer and
// accumulates every byte that was written successfully.
type HashingWriter struct {
	writer io.Writer
	hasher hash.Hash
	count  int64
}

// NewHashingWriter wraps w so that everything written is hashed.
func NewHashingWriter(w io.Writer, hasher hash.Hash) *HashingWriter {
	return &HashingWriter{writer: w, hasher: hasher}
}

func (h *HashingWriter) Write(p []byte) (int, error) {
	n, err := h.writer.Write(p)
	if n > 0 {
		h.hasher.Write(p[:n])
		h.count += int64(n)
	}
	return n, err
}

// Sum returns the digest of everything written so far.
func (h *HashingWriter) Sum() Digest { return SumOf(h.hasher) }

// Count returns the number of bytes written so far.
func (h *HashingWriter) Count() int64 { return h.count }
