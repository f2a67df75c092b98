// Command localproxyd starts a local proxy server speaking one of
// HTTPS CONNECT, SOCKS4(a), or SOCKS5, per a YAML configuration file.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/proxylab/localproxy/pkg/config"
	"github.com/proxylab/localproxy/pkg/listener"
	"github.com/proxylab/localproxy/pkg/session"
	"github.com/proxylab/localproxy/pkg/tunnel"
)

func main() {
	configPath := flag.String("config", "localproxy.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("localproxyd exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	t, err := tunnel.New(cfg)
	if err != nil {
		return fmt.Errorf("building tunnel: %w", err)
	}

	handler, err := session.NewFactory(cfg, t, logger)
	if err != nil {
		return fmt.Errorf("selecting inbound handler: %w", err)
	}

	ln, err := listener.New(cfg, handler, logger)
	if err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	defer ln.Close()

	return ln.Serve()
}
