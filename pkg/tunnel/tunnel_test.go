package tunnel

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/proxylab/localproxy/pkg/config"
)

func TestNewWithNoUpstreamsDialsDirect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	tun, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := tun.DialContext(ctx, host, port)
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never observed the dial")
	}
}

func TestChainRejectsUnsupportedType(t *testing.T) {
	_, err := New(&config.Config{
		ProxyServers: []config.UpstreamProxy{{Type: "bogus", Host: "127.0.0.1", Port: 1}},
	})
	if err == nil {
		t.Fatal("New() = nil error, want rejection of unsupported upstream proxy type")
	}
	if !strings.Contains(err.Error(), "proxy_servers[0]") {
		t.Errorf("error = %v, want it to name the offending index", err)
	}
}

func TestDialContextRespectsCancellation(t *testing.T) {
	tun, err := New(&config.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 192.0.2.0/24 is TEST-NET-1 (RFC 5737): routable-looking but
	// guaranteed unreachable, so the dial blocks until ctx wins the race.
	_, err = tun.DialContext(ctx, "192.0.2.1", 80)
	if err == nil {
		t.Fatal("DialContext() with canceled ctx = nil error, want one")
	}
}
