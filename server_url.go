package main

import (
	"net"
	"strings"
)

// listenerURL renders the bound address as a URL operators can click, mapping
// wildcard hosts to localhost.
func listenerURL(address string, tlsEnabled bool) string {
	scheme := "http://"
	if tlsEnabled {
		scheme = "https://"
	}
	return scheme + displayHostPort(address)
}

func displayHostPort(address string) string {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return "localhost"
	case strings.HasPrefix(address, ":"):
		return "localhost" + address
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		return net.JoinHostPort("localhost", port)
	}
	return net.JoinHostPort(host, port)
}
