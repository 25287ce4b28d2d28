// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serverinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/provision/lib/netutil"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// Info is the server's /info document. Only the fields provisioning
// needs are decoded.
type Info struct {
	ConnectAddress string           `json:"connect_address,omitempty"`
	Build          *BuildDescriptor `json:"build,omitempty"`
	Auth           AuthInfo         `json:"auth"`
	Description    string           `json:"desc,omitempty"`
}

// AuthInfo describes the server's authentication requirements.
type AuthInfo struct {
	Mode      AuthMode `json:"mode"`
	PublicKey string   `json:"public_key"`
}

// AuthMode is the server's authentication policy.
type AuthMode string

const (
	AuthOptional AuthMode = "optional"
	AuthRequired AuthMode = "required"
	AuthDisabled AuthMode = "disabled"
)

// UnmarshalJSON accepts the mode in any letter case ("Required" and
// "required" both occur in the wild).
func (m *AuthMode) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("auth mode: %w", err)
	}
	switch mode := AuthMode(strings.ToLower(raw)); mode {
	case AuthOptional, AuthRequired, AuthDisabled:
		*m = mode
		return nil
	default:
		return fmt.Errorf("unknown auth mode %q", raw)
	}
}

// FetchInfo retrieves and decodes the server's /info document.
func FetchInfo(ctx context.Context, client *netutil.Client, address *url.URL) (*Info, error) {
	if err := provisionerr.CheckContext(ctx); err != nil {
		return nil, err
	}
	infoURL, err := InfoURL(address)
	if err != nil {
		return nil, err
	}

	response, err := client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Accept", "application/json")
		return request, nil
	})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, provisionerr.New(provisionerr.Network, "fetch server info", infoURL, netutil.NewStatusError(response))
	}

	var info Info
	if err := netutil.DecodeResponse(response.Body, &info); err != nil {
		return nil, provisionerr.Protocolf("fetch server info", infoURL, "decoding /info: %w", err)
	}
	return &info, nil
}
