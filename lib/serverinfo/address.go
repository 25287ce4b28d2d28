// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package serverinfo describes what a game server says about the
// build it runs, and how to reach the server's HTTP API.
//
// Server addresses use the ss14:// and ss14s:// schemes. An ss14://
// address maps to plain HTTP on port 1212 unless a port is given;
// ss14s:// maps to HTTPS on the scheme default port. The API base
// always ends in a slash so relative endpoint names resolve beneath
// any path prefix in the address:
//
//	ss14://example.org        -> http://example.org:1212/
//	ss14s://example.org/game  -> https://example.org/game/
//
// The server's /info document carries a [BuildDescriptor], which is
// the input to content and engine provisioning. Servers frequently
// omit URLs they nonetheless serve; [BuildDescriptor.FillDefaults]
// infers them from the API base.
package serverinfo

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the HTTP port of an ss14:// address without one.
const DefaultPort = 1212

const (
	schemeInsecure = "ss14"
	schemeSecure   = "ss14s"
)

// ParseAddress parses a server address. A bare "host[:port]" is
// treated as ss14://. Only the ss14 and ss14s schemes are accepted
// and a host is required.
func ParseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("server address is empty")
	}
	if !strings.Contains(address, "://") {
		address = schemeInsecure + "://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parsing server address: %w", err)
	}
	switch parsed.Scheme {
	case schemeInsecure, schemeSecure:
	default:
		return nil, fmt.Errorf("server address scheme %q: only ss14:// and ss14s:// are supported", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("server address %q has no host", address)
	}
	return parsed, nil
}

// APIBase returns the HTTP base URL of the server's API, ending in
// a slash.
func APIBase(address *url.URL) (*url.URL, error) {
	host := address.Hostname()
	if host == "" {
		return nil, errors.New("server address has no host")
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	base := &url.URL{Path: address.Path}
	switch address.Scheme {
	case schemeInsecure:
		base.Scheme = "http"
		port := address.Port()
		if port == "" {
			port = strconv.Itoa(DefaultPort)
		}
		base.Host = host + ":" + port
	case schemeSecure:
		base.Scheme = "https"
		base.Host = host
		if port := address.Port(); port != "" {
			base.Host = host + ":" + port
		}
	default:
		return nil, fmt.Errorf("server address scheme %q is not ss14 or ss14s", address.Scheme)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base, nil
}

// Endpoint resolves name against the API base.
func Endpoint(address *url.URL, name string) (string, error) {
	base, err := APIBase(address)
	if err != nil {
		return "", err
	}
	return base.JoinPath(name).String(), nil
}

// InfoURL returns the /info endpoint.
func InfoURL(address *url.URL) (string, error) { return Endpoint(address, "info") }

// StatusURL returns the /status endpoint.
func StatusURL(address *url.URL) (string, error) { return Endpoint(address, "status") }

// SelfHostedClientZipURL returns the server's own client.zip, used
// when a CDN download URL is rejected.
func SelfHostedClientZipURL(address *url.URL) (string, error) {
	return Endpoint(address, "client.zip")
}

// ConnectAddress returns the UDP address the game client should
// connect to. A well-formed connect_address from /info wins; bare
// "host:port" values get a udp:// scheme. Otherwise the host and port
// used for /info are reused.
func ConnectAddress(info *Info, infoURL string) (string, error) {
	if info != nil {
		trimmed := strings.TrimSpace(info.ConnectAddress)
		if trimmed != "" {
			candidate := trimmed
			if !strings.Contains(candidate, "://") {
				candidate = "udp://" + candidate
			}
			if parsed, err := url.Parse(candidate); err == nil && parsed.Host != "" {
				return parsed.String(), nil
			}
		}
	}

	parsed, err := url.Parse(infoURL)
	if err != nil || parsed.Hostname() == "" {
		return "", fmt.Errorf("cannot determine connect host from %q", infoURL)
	}
	port := parsed.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	host := parsed.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "udp://" + host + ":" + port, nil
}
