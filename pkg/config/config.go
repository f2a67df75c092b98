// Package config loads and normalizes localproxy's configuration, the Go
// port of twunnel3.local_proxy_server's set_default_configuration.
package config

import (
	"fmt"
	"os"

	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"

	protoerrors "github.com/proxylab/localproxy/pkg/errors"
)

// maxAccountFieldBytes is the wire limit spec.md places on each encoded
// account NAME/PASSWORD (SOCKS5 subnegotiation uses a one-byte length
// prefix per RFC 1929).
const maxAccountFieldBytes = 255

// ServerType identifies which inbound handshake the listener speaks.
type ServerType string

const (
	TypeHTTPS  ServerType = "HTTPS"
	TypeSOCKS4 ServerType = "SOCKS4"
	TypeSOCKS5 ServerType = "SOCKS5"
)

// Account is one SOCKS5 username/password credential pair.
type Account struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// LocalProxyServer mirrors spec.md's LOCAL_PROXY_SERVER block.
type LocalProxyServer struct {
	Type     ServerType `yaml:"type"`
	Address  string     `yaml:"address"`
	Port     uint16     `yaml:"port"`
	Accounts []Account  `yaml:"accounts"`
}

// UpstreamProxy is one entry of the opaque PROXY_SERVERS sequence. The
// core never inspects this type; only pkg/tunnel consumes it, to build an
// upstream proxy chain for outbound dials. A proxy_servers entry may be
// written as the expanded block below or as a single URL string; see
// UnmarshalYAML in upstream.go.
type UpstreamProxy struct {
	Type     string `yaml:"type"` // "http", "https", "socks4", "socks5"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Config is the top-level, read-only-for-the-connection's-lifetime
// configuration object.
type Config struct {
	LocalProxyServer LocalProxyServer `yaml:"local_proxy_server"`
	ProxyServers     []UpstreamProxy  `yaml:"proxy_servers"`
}

// Load reads a YAML configuration file and normalizes it. A missing file
// is not an error: it yields a fully-defaulted Config, the same way
// twunnel3's set_default_configuration fills in missing keys rather than
// requiring them.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			Normalize(&cfg)
			return &cfg, nil
		}
		return nil, protoerrors.NewConfigError(fmt.Sprintf("read config %s: %v", path, err))
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, protoerrors.NewConfigError(fmt.Sprintf("parse config %s: %v", path, err))
	}

	Normalize(&cfg)
	return &cfg, nil
}

// Normalize fills in default values for every recognized option, mirroring
// set_default_configuration(configuration, ["PROXY_SERVERS",
// "LOCAL_PROXY_SERVER"]) from the original implementation: empty TYPE,
// empty ADDRESS, zero PORT, empty ACCOUNTS, and per-account empty
// NAME/PASSWORD. It never rejects a missing field; Validate is where
// Go-specific strictness (UTF-8, field length) is enforced.
func Normalize(cfg *Config) {
	if cfg.ProxyServers == nil {
		cfg.ProxyServers = []UpstreamProxy{}
	}
	if cfg.LocalProxyServer.Accounts == nil {
		cfg.LocalProxyServer.Accounts = []Account{}
	}
}

// Validate checks the normalized configuration for the constraints
// spec.md's data model places on account credentials: each encoded NAME
// and PASSWORD must be valid UTF-8 and fit the RFC 1929 255-byte field.
// It uses golang.org/x/text/encoding/unicode to round-trip each string
// through its UTF-8 encoder and rejects any string the round trip alters,
// which catches ill-formed sequences (including encoded surrogates) that a
// Go string can hold.
func Validate(cfg *Config) error {
	if cfg.LocalProxyServer.Type != "" {
		switch cfg.LocalProxyServer.Type {
		case TypeHTTPS, TypeSOCKS4, TypeSOCKS5:
		default:
			return protoerrors.NewConfigError(fmt.Sprintf("unknown local_proxy_server.type %q", cfg.LocalProxyServer.Type))
		}
	}

	enc := unicode.UTF8.NewEncoder()
	for i, acct := range cfg.LocalProxyServer.Accounts {
		for field, value := range map[string]string{"name": acct.Name, "password": acct.Password} {
			encoded, err := enc.String(value)
			if err == nil && encoded != value {
				// The UTF-8 encoder replaces ill-formed sequences with
				// U+FFFD instead of failing, so any change means the input
				// was not well-formed.
				err = fmt.Errorf("ill-formed UTF-8 sequence")
			}
			if err != nil {
				return protoerrors.NewConfigError(fmt.Sprintf("accounts[%d].%s is not valid UTF-8: %v", i, field, err))
			}
			if len(encoded) > maxAccountFieldBytes {
				return protoerrors.NewConfigError(fmt.Sprintf("accounts[%d].%s exceeds %d encoded bytes", i, field, maxAccountFieldBytes))
			}
		}
	}

	return nil
}
