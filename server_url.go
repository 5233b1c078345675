package main

import (
	"net"
	"net/url"
	"strings"
)

// advertisedURLs returns the operator facing HTTP base URL and the WebSocket relay URL peers
// should pass as their broker URL.
func advertisedURLs(address string, tlsEnabled bool) (base, relay string) {
	host := normaliseHostPort(address)
	httpURL := url.URL{Scheme: "http", Host: host}
	wsURL := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	if tlsEnabled {
		httpURL.Scheme, wsURL.Scheme = "https", "wss"
	}
	return httpURL.String(), wsURL.String()
}

// normaliseHostPort turns wildcard listen addresses into a reachable host:port pair.
func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
