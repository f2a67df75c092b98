package tunnel

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/net/proxy"
)

// socks4Dialer chains through a SOCKS4 upstream, the way go-rawhttp's own
// client-side Transport.connectViaSOCKS4Proxy talks SOCKS4 by hand instead
// of via a library (golang.org/x/net/proxy has no SOCKS4 support).
type socks4Dialer struct {
	forward proxy.Dialer
	addr    string // upstream SOCKS4 proxy address
	userID  string
}

func (d *socks4Dialer) Dial(network, targetAddr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return nil, err
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("socks4: DNS resolution failed for %s: %w", host, err)
		}
		for _, candidate := range ips {
			if v4 := candidate.To4(); v4 != nil {
				ip = v4
				break
			}
		}
		if ip == nil {
			return nil, fmt.Errorf("socks4: no IPv4 address found for %s", host)
		}
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("socks4: target %s is not IPv4", host)
	}

	conn, err := d.forward.Dial(network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("socks4: connecting to upstream proxy: %w", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, ip4...)
	req = append(req, []byte(d.userID)...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: sending request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: reading response: %w", err)
	}

	if resp[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("socks4: request rejected, status 0x%02X", resp[1])
	}

	return conn, nil
}

// httpConnectDialer chains through an HTTP/HTTPS CONNECT upstream,
// mirroring go-rawhttp's client-side Transport.connectViaHTTPProxy (TLS
// upgrade is out of scope here since upstream chaining is itself an
// out-of-scope collaborator feature; only plain HTTP CONNECT is chained).
type httpConnectDialer struct {
	forward  proxy.Dialer
	addr     string
	username string
	password string
}

func (d *httpConnectDialer) Dial(network, targetAddr string) (net.Conn, error) {
	conn, err := d.forward.Dial(network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("http connect: connecting to upstream proxy: %w", err)
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", targetAddr, targetAddr)
	if d.username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(d.username + ":" + d.password))
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("http connect: sending request: %w", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("http connect: reading response: %w", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, fmt.Errorf("http connect: upstream rejected: %s", strings.TrimSpace(statusLine))
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("http connect: reading response headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	return conn, nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
