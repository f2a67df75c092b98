package session

import (
	"context"
	"net"
	"testing"

	"github.com/proxylab/localproxy/pkg/config"
	"github.com/proxylab/localproxy/pkg/timing"
)

// fakeTunnel stands in for pkg/tunnel in handler tests: it hands back one
// end of an in-process net.Pipe and records the (host, port) it was asked
// to dial, or returns a fixed error to simulate a failed outbound connect.
type fakeTunnel struct {
	remote     net.Conn // kept by the test to assert what the "remote" side sees
	dialErr    error
	gotHost    string
	gotPort    int
	dialCount  int
}

func (f *fakeTunnel) DialContext(ctx context.Context, host string, port int) (net.Conn, error) {
	f.dialCount++
	f.gotHost, f.gotPort = host, port
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	local, remote := net.Pipe()
	f.remote = remote
	return local, nil
}

func newTestHandler(t *testing.T, typ config.ServerType, accounts []config.Account, ft *fakeTunnel) *Handler {
	t.Helper()
	cfg := &config.Config{
		LocalProxyServer: config.LocalProxyServer{Type: typ, Accounts: accounts},
	}
	h, err := NewFactory(cfg, ft, nil)
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	return h
}

// readExact reads exactly n bytes from conn or fails the test.
func readExact(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	total := 0
	for total < n {
		m, err := conn.Read(buf[total:])
		if err != nil {
			t.Fatalf("readExact: %v (got %d/%d bytes)", err, total, n)
		}
		total += m
	}
	return buf
}

func newTimer() *timing.Timer { return timing.NewTimer() }
