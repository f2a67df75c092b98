package session

import (
	"context"
	"fmt"
	"net"

	"github.com/proxylab/localproxy/pkg/constants"
	protoerrors "github.com/proxylab/localproxy/pkg/errors"
	"github.com/proxylab/localproxy/pkg/timing"
)

// handleSOCKS4 implements the SOCKS4/4a request handshake: an 8-byte
// fixed header, a NUL-terminated user id (ignored), and — when the
// address field is the SOCKS4a sentinel — a second NUL-terminated
// hostname in place of the literal IPv4 address.
func (h *Handler) handleSOCKS4(conn net.Conn, timer *timing.Timer) error {
	s := newSessionState(h, conn)
	timer.StartHandshake()

	for s.buf.Len() < 8 {
		if err := s.fill(); err != nil {
			return protoerrors.NewHandshakeError("socks4", "connection closed before request header completed", err)
		}
	}
	head, _ := s.buf.Peek(8)
	version := head[0]
	command := head[1]
	port := int(head[2])<<8 | int(head[3])
	addr := uint32(head[4])<<24 | uint32(head[5])<<16 | uint32(head[6])<<8 | uint32(head[7])
	s.buf.Consume(8)

	if version != constants.Socks4Version {
		conn.Write(socks4Reply(constants.Socks4ReplyRejected))
		return protoerrors.NewHandshakeError("socks4", fmt.Sprintf("unsupported version %d", version), nil)
	}

	// SOCKS4a sentinel: 0.0.0.x with x in [1,255] means "hostname follows",
	// not a literal IPv4 address. The original source detects this as the
	// whole 32-bit integer falling in [1,255], a broader predicate than
	// "first three octets zero"; this preserves that behavior.
	isDomain := addr >= 1 && addr <= 255

	var host string
	if !isDomain {
		host = fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
	}

	if err := s.consumeNULTerminated(func([]byte) {}); err != nil {
		return protoerrors.NewHandshakeError("socks4", "connection closed before user id completed", err)
	}

	if isDomain {
		if err := s.consumeNULTerminated(func(b []byte) { host = string(b) }); err != nil {
			return protoerrors.NewHandshakeError("socks4", "connection closed before hostname completed", err)
		}
	}

	if command != constants.Socks4CmdConnect {
		conn.Write(socks4Reply(constants.Socks4ReplyRejected))
		return protoerrors.NewHandshakeError("socks4", fmt.Sprintf("unsupported command %d", command), nil)
	}

	timer.EndHandshake()
	timer.StartDial()
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultDialTimeout)
	defer cancel()
	outbound, dialErr := s.dial(ctx, host, port)
	timer.EndDial()
	if dialErr != nil {
		conn.Write(socks4Reply(constants.Socks4ReplyRejected))
		return protoerrors.NewDialError(host, port, dialErr)
	}

	if _, err := conn.Write(socks4Reply(constants.Socks4ReplyGranted)); err != nil {
		outbound.Close()
		return protoerrors.NewIOError("write", err)
	}

	return s.replayThenSplice(outbound, timer)
}

// consumeNULTerminated waits for a NUL byte, hands the bytes before it to
// fn, and consumes through the NUL inclusive.
func (s *session) consumeNULTerminated(fn func([]byte)) error {
	for {
		if idx := s.buf.Find([]byte{0x00}); idx >= 0 {
			field, _ := s.buf.Peek(idx)
			fn(append([]byte(nil), field...))
			s.buf.Consume(idx + 1)
			return nil
		}
		if s.buf.Len() > constants.MaxHandshakeBytes {
			return protoerrors.NewHandshakeError("socks4", "field too large", nil)
		}
		if err := s.fill(); err != nil {
			return err
		}
	}
}

func socks4Reply(status byte) []byte {
	return []byte{0x00, status, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
}
