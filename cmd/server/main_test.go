package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurlHostForListenAddr(t *testing.T) {
	tests := []struct {
		name       string
		listenAddr string
		want       string
	}{
		{"port_only", ":8080", "localhost:8080"},
		{"ipv4_host_and_port", "127.0.0.1:8080", "127.0.0.1:8080"},
		{"wildcard_ipv4", "0.0.0.0:8080", "localhost:8080"},
		{"wildcard_ipv6", "[::]:8080", "localhost:8080"},
		{"ipv6_loopback", "[::1]:8080", "[::1]:8080"},
		{"trims_host_and_port", " localhost:9090 ", "localhost:9090"},
		{"trims_port_only", "  :7070  ", "localhost:7070"},
		{"empty_falls_back", "", "localhost:8080"},
		{"whitespace_falls_back", "   ", "localhost:8080"},
		{"malformed_passes_through", "localhost", "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, curlHostForListenAddr(tt.listenAddr))
		})
	}
}
