package session

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/proxylab/localproxy/pkg/constants"
	protoerrors "github.com/proxylab/localproxy/pkg/errors"
	"github.com/proxylab/localproxy/pkg/timing"
)

const crlfcrlf = "\r\n\r\n"

// handleHTTPS implements the CONNECT tunnel handshake: accumulate the
// request head, validate the request line, resolve the target authority,
// dial it, and reply with the bare status lines RFC 7231 section 4.3.6
// expects before handing off to splice mode.
func (h *Handler) handleHTTPS(conn net.Conn, timer *timing.Timer) error {
	s := newSessionState(h, conn)
	timer.StartHandshake()

	head, err := s.readUntilHeadComplete()
	if err != nil {
		return err
	}

	firstLine, _, _ := strings.Cut(string(head), "\r\n")
	tokens := strings.Fields(firstLine)
	if len(tokens) != 3 {
		conn.Write([]byte("HTTP/1.1 400 Bad Request" + crlfcrlf))
		return protoerrors.NewHandshakeError("https", "malformed request line", nil)
	}

	method := strings.ToUpper(tokens[0])
	if method != "CONNECT" {
		conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\nAllow: CONNECT" + crlfcrlf))
		return protoerrors.NewHandshakeError("https", "unsupported method "+method, nil)
	}

	host, port := parseConnectAuthority(tokens[1])

	timer.EndHandshake()
	timer.StartDial()
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultDialTimeout)
	defer cancel()
	outbound, dialErr := s.dial(ctx, host, port)
	timer.EndDial()
	if dialErr != nil {
		conn.Write([]byte("HTTP/1.1 404 Not Found" + crlfcrlf))
		return protoerrors.NewDialError(host, port, dialErr)
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 OK" + crlfcrlf)); err != nil {
		outbound.Close()
		return protoerrors.NewIOError("write", err)
	}

	return s.replayThenSplice(outbound, timer)
}

// readUntilHeadComplete accumulates bytes until CRLFCRLF appears,
// consumes exactly the head (including the terminator) from the buffer,
// and returns a copy of it; any bytes beyond the terminator stay in the
// buffer as pipelined payload for later replay.
func (s *session) readUntilHeadComplete() ([]byte, error) {
	for {
		if idx := s.buf.Find([]byte(crlfcrlf)); idx >= 0 {
			headLen := idx + len(crlfcrlf)
			raw, _ := s.buf.Peek(headLen)
			head := append([]byte(nil), raw...)
			s.buf.Consume(headLen)
			return head, nil
		}
		if s.buf.Len() > constants.MaxHandshakeBytes {
			return nil, protoerrors.NewHandshakeError("https", "request head too large", nil)
		}
		if err := s.fill(); err != nil {
			return nil, protoerrors.NewHandshakeError("https", "connection closed before request completed", err)
		}
	}
}

// parseConnectAuthority splits a CONNECT request-target into host and
// port. The rightmost colon is the split point unless it falls inside an
// IPv6 literal's brackets, in which case the bracket pair is stripped to
// yield a bare literal and the port defaults to 443.
func parseConnectAuthority(uri string) (string, int) {
	openIdx := strings.IndexByte(uri, '[')
	closeIdx := strings.IndexByte(uri, ']')
	colonIdx := strings.LastIndexByte(uri, ':')
	hasBrackets := openIdx >= 0 && closeIdx >= 0

	splitAtColon := colonIdx >= 0 && (!hasBrackets || colonIdx > closeIdx)

	host := uri
	port := constants.DefaultHTTPSPort
	if splitAtColon {
		host = uri[:colonIdx]
		if p, err := strconv.Atoi(uri[colonIdx+1:]); err == nil {
			port = p
		}
	}

	if hasBrackets && closeIdx > openIdx && closeIdx < len(host) {
		host = host[openIdx+1 : closeIdx]
	}

	return host, port
}
