package session

import (
	"errors"
	"io"
	"net"

	"github.com/proxylab/localproxy/pkg/constants"
	protoerrors "github.com/proxylab/localproxy/pkg/errors"
)

// halfCloser is implemented by *net.TCPConn and friends; when the
// destination conn supports it, the end of one copy direction is signalled
// to that conn's peer as EOF. spliceLoop still closes both conns fully as
// soon as the first direction ends, so the other direction is not left
// open to drain.
type halfCloser interface {
	CloseWrite() error
}

// spliceLoop forwards bytes in both directions until one side closes,
// then closes the other. Two goroutines each own one direction; Go's
// blocking net.Conn.Write is this server's backpressure mechanism, so no
// explicit pause/resume bookkeeping is needed (see design notes on the
// concurrency model): a slow outbound write blocks the goroutine copying
// from inbound to outbound, which in turn stops draining inbound's read
// buffer, which is the TCP-level equivalent of pausing the inbound reader.
func spliceLoop(inbound, outbound net.Conn) error {
	errCh := make(chan error, 2)

	go func() { errCh <- copyAndHalfClose(outbound, inbound) }()
	go func() { errCh <- copyAndHalfClose(inbound, outbound) }()

	first := <-errCh
	inbound.Close()
	outbound.Close()
	<-errCh

	if first != nil && !errors.Is(first, io.EOF) {
		return protoerrors.NewSpliceError("splice", first)
	}
	return nil
}

func copyAndHalfClose(dst, src net.Conn) error {
	buf := make([]byte, constants.SpliceBufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	}
	return err
}
