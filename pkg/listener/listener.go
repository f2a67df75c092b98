// Package listener binds the configured address/port and hands each
// accepted connection to the session.Handler selected at startup,
// mirroring twunnel3.local_proxy_server.create_server's accept loop.
package listener

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/proxylab/localproxy/pkg/config"
	"github.com/proxylab/localproxy/pkg/session"
)

// Listener owns the bound TCP socket and the handler used for every
// connection it accepts.
type Listener struct {
	ln      net.Listener
	handler *session.Handler
	logger  *slog.Logger
}

// New binds LocalProxyServer.Address:Port. It does not start accepting
// until Serve is called.
func New(cfg *config.Config, handler *session.Handler, logger *slog.Logger) (*Listener, error) {
	addr := fmt.Sprintf("%s:%d", cfg.LocalProxyServer.Address, cfg.LocalProxyServer.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: bind %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{ln: ln, handler: handler, logger: logger}, nil
}

// Addr returns the bound address, useful when Port was 0 at New time.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until the listener is closed, handing each
// to its own goroutine running the handler to completion.
func (l *Listener) Serve() error {
	l.logger.Info("listening", "addr", l.ln.Addr().String())
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return fmt.Errorf("listener: accept: %w", err)
		}
		go l.handler.Handle(conn)
	}
}
