// Package tunnel implements the "upstream-tunnel construction module" that
// spec.md treats as an external collaborator: given a (host, port) it
// asynchronously establishes a TCP-like transport, optionally chained
// through the opaque PROXY_SERVERS upstream list.
//
// The core (pkg/session) only depends on the Tunnel interface's contract;
// this package is the out-of-scope-but-implemented default.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/proxylab/localproxy/pkg/config"
	protoerrors "github.com/proxylab/localproxy/pkg/errors"
)

// Tunnel asynchronously establishes an outbound connection to (host, port).
// "Asynchronously" in the original asyncio sense maps to "does not block
// any connection other than the caller's own goroutine" in Go; callers
// invoke DialContext from the per-connection handshake goroutine.
type Tunnel interface {
	DialContext(ctx context.Context, host string, port int) (net.Conn, error)
}

// tunnel is the default Tunnel: a direct net.Dialer, optionally chained
// through one or more upstream proxies taken from Config.ProxyServers in
// order (the first entry is dialed directly, each subsequent entry is
// reached through the previous).
type tunnel struct {
	dialer proxy.Dialer
}

// New builds the default Tunnel from configuration. PROXY_SERVERS is
// opaque to spec.md's core; this is the one place it is interpreted.
func New(cfg *config.Config) (Tunnel, error) {
	var d proxy.Dialer = &net.Dialer{Timeout: 10 * time.Second}

	for i, up := range cfg.ProxyServers {
		chained, err := chain(d, up)
		if err != nil {
			return nil, protoerrors.NewConfigError(fmt.Sprintf("proxy_servers[%d]: %v", i, err))
		}
		d = chained
	}

	return &tunnel{dialer: d}, nil
}

func chain(forward proxy.Dialer, up config.UpstreamProxy) (proxy.Dialer, error) {
	addr := fmt.Sprintf("%s:%d", up.Host, up.Port)

	switch up.Type {
	case "socks5":
		var auth *proxy.Auth
		if up.Username != "" {
			auth = &proxy.Auth{User: up.Username, Password: up.Password}
		}
		return proxy.SOCKS5("tcp", addr, auth, forward)
	case "socks4":
		return &socks4Dialer{forward: forward, addr: addr, userID: up.Username}, nil
	case "http", "https":
		return &httpConnectDialer{forward: forward, addr: addr, username: up.Username, password: up.Password}, nil
	default:
		return nil, fmt.Errorf("unsupported upstream proxy type %q", up.Type)
	}
}

// DialContext establishes the outbound connection, respecting ctx
// cancellation even though the underlying proxy.Dialer chain is
// synchronous and context-unaware.
func (t *tunnel) DialContext(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := t.dialer.Dial("tcp", addr)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		// The goroutine above may still complete later and leak its
		// connection; best effort is to let it close itself once Dial
		// returns, since proxy.Dialer offers no cancellation hook.
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, protoerrors.NewDialError(host, port, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, protoerrors.NewDialError(host, port, r.err)
		}
		return r.conn, nil
	}
}
