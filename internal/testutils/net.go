package testutils

import (
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// FreeTCPPort returns a TCP port currently free on host.
func FreeTCPPort(t *testing.T, host string) int {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	require.NoError(t, err, "Setup: failed to listen on tcp")
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok, "Setup: expected TCPAddr")
	return addr.Port
}

// PortOpen reports whether something accepts TCP connections on host:port.
func PortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForPortClosed fails the test if host:port still accepts connections after timeout.
func WaitForPortClosed(t *testing.T, host string, port int, timeout time.Duration) {
	t.Helper()

	require.Eventually(t, func() bool { return !PortOpen(host, port) }, timeout, 50*time.Millisecond,
		"Port %s:%d did not close in time", host, port)
}

// WaitForHTTP polls url until it answers with wantStatus or fails the test after timeout.
func WaitForHTTP(t *testing.T, url string, wantStatus int, timeout time.Duration) {
	t.Helper()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == wantStatus
	}, timeout, 50*time.Millisecond, "Setup: %s did not become ready in time", url)
}
