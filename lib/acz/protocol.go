// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acz

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// ProtocolVersion is the blob download protocol this client speaks.
const ProtocolVersion = 1

const (
	headerMinProtocol = "X-Robust-Download-Min-Protocol"
	headerMaxProtocol = "X-Robust-Download-Max-Protocol"
	headerProtocol    = "X-Robust-Download-Protocol"

	flagPrecompressed = 1 << 0
)

// negotiate checks that the download endpoint supports
// ProtocolVersion. Failures are not retried beyond the transport
// retry in client: an incompatible server stays incompatible.
func negotiate(ctx context.Context, client *netutil.Client, downloadURL string) error {
	if err := provisionerr.CheckContext(ctx); err != nil {
		return err
	}
	response, err := client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodOptions, downloadURL, nil)
	})
	if err != nil {
		return err
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return provisionerr.New(provisionerr.Network, "negotiate download protocol", downloadURL, netutil.NewStatusError(response))
	}

	minimum, err := protocolHeader(response.Header, headerMinProtocol)
	if err != nil {
		return provisionerr.New(provisionerr.Protocol, "negotiate download protocol", downloadURL, err)
	}
	maximum, err := protocolHeader(response.Header, headerMaxProtocol)
	if err != nil {
		return provisionerr.New(provisionerr.Protocol, "negotiate download protocol", downloadURL, err)
	}
	if minimum > ProtocolVersion || maximum < ProtocolVersion {
		return provisionerr.New(provisionerr.Protocol, "negotiate download protocol", downloadURL,
			fmt.Errorf("server supports protocol %d..%d, client speaks %d: %w",
				minimum, maximum, ProtocolVersion, provisionerr.ErrProtocolUnsupported))
	}
	return nil
}

func protocolHeader(header http.Header, name string) (int, error) {
	raw := strings.TrimSpace(header.Get(name))
	if raw == "" {
		return 0, fmt.Errorf("missing %s header: %w", name, provisionerr.ErrProtocolUnsupported)
	}
	value, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s header %q: %w", name, raw, provisionerr.ErrProtocolUnsupported)
	}
	return int(value), nil
}

// encodeIndices returns the POST body for a batch.
func encodeIndices(indices []int32) []byte {
	body := make([]byte, 4*len(indices))
	for i, index := range indices {
		binary.LittleEndian.PutUint32(body[4*i:], uint32(index))
	}
	return body
}

// isZstdEncoded reports whether a response declares zstd
// Content-Encoding.
func isZstdEncoded(header http.Header) bool {
	for _, value := range header.Values("Content-Encoding") {
		for part := range strings.SplitSeq(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "zstd") {
				return true
			}
		}
	}
	return false
}

// readInt32 reads one little-endian int32 frame field. A stream that
// ends inside the field is a short read.
func readInt32(reader io.Reader) (int32, error) {
	var buffer [4]byte
	if _, err := io.ReadFull(reader, buffer[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("response ended inside a length field: %w", provisionerr.ErrShortRead)
		}
		return 0, fmt.Errorf("reading length field: %w", err)
	}
	return int32(binary.LittleEndian.Uint32(buffer[:])), nil
}

// readLength reads a frame length and rejects negative values.
func readLength(reader io.Reader, what string) (int64, error) {
	value, err := readInt32(reader)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, provisionerr.Protocolf("read blob frame", "", "negative %s %d", what, value)
	}
	return int64(value), nil
}

// newStreamDecoder returns a zstd decoder for sequential streaming
// use. Each worker owns one and resets it per blob.
func newStreamDecoder() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
}
