package session

import (
	"context"
	"fmt"
	"net"

	"github.com/proxylab/localproxy/pkg/config"
	"github.com/proxylab/localproxy/pkg/constants"
	protoerrors "github.com/proxylab/localproxy/pkg/errors"
	"github.com/proxylab/localproxy/pkg/frame"
	"github.com/proxylab/localproxy/pkg/timing"
)

// handleSOCKS5 implements method negotiation, optional username/password
// subnegotiation (RFC 1929), and the CONNECT request (RFC 1928) before
// handing off to splice mode.
func (h *Handler) handleSOCKS5(conn net.Conn, timer *timing.Timer) error {
	s := newSessionState(h, conn)
	timer.StartHandshake()

	if err := h.socks5NegotiateMethod(s, conn); err != nil {
		return err
	}

	host, port, err := h.socks5ParseRequest(s, conn)
	if err != nil {
		return err
	}

	timer.EndHandshake()
	timer.StartDial()
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultDialTimeout)
	defer cancel()
	outbound, dialErr := s.dial(ctx, host, port)
	timer.EndDial()
	if dialErr != nil {
		conn.Write(socks5Reply(constants.Socks5ReplyConnectionRefused))
		return protoerrors.NewDialError(host, port, dialErr)
	}

	if _, err := conn.Write(socks5Reply(constants.Socks5ReplySucceeded)); err != nil {
		outbound.Close()
		return protoerrors.NewIOError("write", err)
	}

	return s.replayThenSplice(outbound, timer)
}

// socks5NegotiateMethod parses the method-selection message, replies with
// the server's preferred method (no-auth if the account list is empty,
// username/password otherwise), and runs the auth subnegotiation when
// required.
func (h *Handler) socks5NegotiateMethod(s *session, conn net.Conn) error {
	for {
		if head, ok := s.buf.Peek(2); ok {
			if _, ok := s.buf.Peek(2 + int(head[1])); ok {
				break
			}
		}
		if s.buf.Len() > constants.MaxHandshakeBytes {
			return protoerrors.NewHandshakeError("socks5", "method list too large", nil)
		}
		if err := s.fill(); err != nil {
			return protoerrors.NewHandshakeError("socks5", "connection closed before method list completed", err)
		}
	}

	head, _ := s.buf.Peek(2)
	version, nmethods := head[0], int(head[1])
	if version != constants.Socks5Version {
		conn.Write([]byte{constants.Socks5Version, constants.Socks5AuthNoAcceptable})
		return protoerrors.NewHandshakeError("socks5", fmt.Sprintf("unsupported version %d", version), nil)
	}
	full, _ := s.buf.Peek(2 + nmethods)
	methods := append([]byte(nil), full[2:]...)
	s.buf.Consume(2 + nmethods)

	accounts := h.cfg.LocalProxyServer.Accounts
	preferred := byte(constants.Socks5AuthNone)
	if len(accounts) > 0 {
		preferred = constants.Socks5AuthUserPassword
	}

	offered := false
	for _, m := range methods {
		if m == preferred {
			offered = true
			break
		}
	}
	if !offered {
		conn.Write([]byte{constants.Socks5Version, constants.Socks5AuthNoAcceptable})
		return protoerrors.NewHandshakeError("socks5", "no acceptable authentication method", nil)
	}

	if _, err := conn.Write([]byte{constants.Socks5Version, preferred}); err != nil {
		return protoerrors.NewIOError("write", err)
	}

	if preferred == constants.Socks5AuthUserPassword {
		return h.socks5Authenticate(s, conn, accounts)
	}
	return nil
}

// socks5Authenticate parses the username/password subnegotiation message
// and checks it against the configured accounts in order; the first
// matching NAME decides the outcome, matched or not.
func (h *Handler) socks5Authenticate(s *session, conn net.Conn, accounts []config.Account) error {
	for {
		if head, ok := s.buf.Peek(2); ok {
			nlen := int(head[1])
			if withPlen, ok := s.buf.Peek(2 + nlen + 1); ok {
				plen := int(withPlen[2+nlen])
				if _, ok := s.buf.Peek(2 + nlen + 1 + plen); ok {
					break
				}
			}
		}
		if s.buf.Len() > constants.MaxHandshakeBytes {
			return protoerrors.NewAuthError("credentials too large")
		}
		if err := s.fill(); err != nil {
			return protoerrors.NewHandshakeError("socks5", "connection closed before credentials completed", err)
		}
	}

	head, _ := s.buf.Peek(2)
	nlen := int(head[1])
	withPlen, _ := s.buf.Peek(2 + nlen + 1)
	plen := int(withPlen[2+nlen])
	full, _ := s.buf.Peek(2 + nlen + 1 + plen)

	name := string(full[2 : 2+nlen])
	password := string(full[2+nlen+1 : 2+nlen+1+plen])
	s.buf.Consume(2 + nlen + 1 + plen)

	for _, acct := range accounts {
		if acct.Name != name {
			continue
		}
		if acct.Password == password {
			conn.Write([]byte{constants.Socks5AuthStatusVersion, constants.Socks5AuthSuccess})
			return nil
		}
		conn.Write([]byte{constants.Socks5AuthStatusVersion, constants.Socks5AuthFailure})
		return protoerrors.NewAuthError("invalid password for account " + name)
	}

	conn.Write([]byte{constants.Socks5AuthStatusVersion, constants.Socks5AuthFailure})
	return protoerrors.NewAuthError("unknown account " + name)
}

// socks5ParseRequest parses the CONNECT request: version, command,
// reserved byte, address type, the address itself (shape depends on
// type), and the destination port.
func (h *Handler) socks5ParseRequest(s *session, conn net.Conn) (string, int, error) {
	for {
		if total, ok := socks5RequestLen(s.buf); ok {
			if _, ok := s.buf.Peek(total); ok {
				break
			}
		}
		if s.buf.Len() > constants.MaxHandshakeBytes {
			return "", 0, protoerrors.NewHandshakeError("socks5", "request too large", nil)
		}
		if err := s.fill(); err != nil {
			return "", 0, protoerrors.NewHandshakeError("socks5", "connection closed before request completed", err)
		}
	}

	head, _ := s.buf.Peek(4)
	version, command, atyp := head[0], head[1], head[3]
	if version != constants.Socks5Version {
		conn.Write(socks5Reply(constants.Socks5ReplyGeneralFailure))
		return "", 0, protoerrors.NewHandshakeError("socks5", fmt.Sprintf("unsupported version %d", version), nil)
	}

	var host string
	var addrEnd int
	switch atyp {
	case constants.Socks5AddrIPv4:
		full, _ := s.buf.Peek(8)
		host = fmt.Sprintf("%d.%d.%d.%d", full[4], full[5], full[6], full[7])
		addrEnd = 8
	case constants.Socks5AddrIPv6:
		full, _ := s.buf.Peek(20)
		host = net.IP(full[4:20]).String()
		addrEnd = 20
	case constants.Socks5AddrDomain:
		lenByte, _ := s.buf.Peek(5)
		domainLen := int(lenByte[4])
		full, _ := s.buf.Peek(5 + domainLen)
		host = string(full[5 : 5+domainLen])
		addrEnd = 5 + domainLen
	default:
		conn.Write(socks5Reply(constants.Socks5ReplyGeneralFailure))
		return "", 0, protoerrors.NewHandshakeError("socks5", fmt.Sprintf("unsupported address type %d", atyp), nil)
	}

	portBytes, _ := s.buf.Peek(addrEnd + 2)
	port := int(portBytes[addrEnd])<<8 | int(portBytes[addrEnd+1])
	s.buf.Consume(addrEnd + 2)

	if command != constants.Socks5CmdConnect {
		conn.Write(socks5Reply(constants.Socks5ReplyCommandNotSupported))
		return "", 0, protoerrors.NewHandshakeError("socks5", fmt.Sprintf("unsupported command %d", command), nil)
	}

	return host, port, nil
}

// socks5RequestLen reports the total byte length of the request currently
// at the front of buf, and whether enough bytes are buffered to know it
// (the domain address type needs a fifth byte, the length prefix, before
// the total length is knowable at all).
func socks5RequestLen(buf *frame.Buffer) (int, bool) {
	head, ok := buf.Peek(4)
	if !ok {
		return 0, false
	}
	switch head[3] {
	case constants.Socks5AddrIPv4:
		return 4 + 4 + 2, true
	case constants.Socks5AddrIPv6:
		return 4 + 16 + 2, true
	case constants.Socks5AddrDomain:
		lenByte, ok := buf.Peek(5)
		if !ok {
			return 0, false
		}
		return 5 + int(lenByte[4]) + 2, true
	default:
		return 4, true
	}
}

func socks5Reply(code byte) []byte {
	return []byte{constants.Socks5Version, code, 0x00, constants.Socks5AddrIPv4, 0, 0, 0, 0, 0, 0}
}
