package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/ghodss/yaml"

	"github.com/veilsocks/veil/pkg/codec"
	"github.com/veilsocks/veil/pkg/preset"
)

// ErrConfig indicates configuration that must stop the process at
// startup. It is never retried.
var ErrConfig = errors.New("invalid configuration")

// DefaultTimeout applies when the config file omits the timeout
const DefaultTimeout = 600

// warnTimeout is the threshold below which a timeout is legal but
// probably a mistake
const warnTimeout = 60

// Role selects which end of the tunnel this process runs
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Server describes one remote server a client may relay through
type Server struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Key     string `json:"key"`

	// Presets is the ordered transform chain negotiated with this server
	Presets []preset.Descriptor `json:"presets"`
}

// Address returns the server's host:port
func (s *Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Config is the immutable configuration value object built once at
// startup and passed by reference into the pipeline bootstrap. Nothing
// reads configuration from ambient process state.
type Config struct {
	Role Role   `json:"role"`
	Host string `json:"host"`
	Port int    `json:"port"`

	// Transport carries the obfuscated stream: tcp, websocket, or quic
	Transport string `json:"transport,omitempty"`

	// Client role: enabled remote servers and the fixed tunnel target
	// every local connection is relayed to
	Servers []Server `json:"servers,omitempty"`
	Forward string   `json:"forward,omitempty"`

	// Server role: shared secret, preset chain, and the optional
	// address raw traffic is handed to when a peer violates the
	// protocol
	Key      string              `json:"key,omitempty"`
	Presets  []preset.Descriptor `json:"presets,omitempty"`
	Redirect string              `json:"redirect,omitempty"`

	// Timeout in seconds for idle connections
	Timeout int `json:"timeout,omitempty"`
}

// Load reads, parses, and validates a YAML or JSON configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Pre-fill defaults so an omitted field keeps the default while an
	// explicit zero still reaches validation and is rejected there
	cfg := &Config{Timeout: DefaultTimeout}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration shape. Everything downstream
// (pipeline bootstrap, relays) assumes a validated config and never
// re-checks these rules.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleClient, RoleServer:
	default:
		return fmt.Errorf("%w: role must be %q or %q", ErrConfig, RoleClient, RoleServer)
	}

	if !isValidHost(c.Host) {
		return fmt.Errorf("%w: bad bind host %q", ErrConfig, c.Host)
	}
	if !codec.IsValidPort(c.Port) {
		return fmt.Errorf("%w: bad bind port %d", ErrConfig, c.Port)
	}

	switch c.Transport {
	case "", "tcp", "websocket", "quic":
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrConfig, c.Transport)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("%w: timeout must be at least 1 second, got %d", ErrConfig, c.Timeout)
	}
	if c.Timeout < warnTimeout {
		log.Printf("Warning: timeout of %ds is unusually low, expect dropped long-lived connections", c.Timeout)
	}

	if c.Role == RoleClient {
		return c.validateClient()
	}
	return c.validateServer()
}

func (c *Config) validateClient() error {
	enabled := 0
	for i := range c.Servers {
		s := &c.Servers[i]
		if !s.Enabled {
			continue
		}
		enabled++
		if !isValidHost(s.Host) {
			return fmt.Errorf("%w: server %d: bad host %q", ErrConfig, i, s.Host)
		}
		if !codec.IsValidPort(s.Port) {
			return fmt.Errorf("%w: server %d: bad port %d", ErrConfig, i, s.Port)
		}
		if s.Key == "" {
			return fmt.Errorf("%w: server %d: key must be a non-empty string", ErrConfig, i)
		}
		if len(s.Presets) == 0 {
			return fmt.Errorf("%w: server %d: preset list is empty", ErrConfig, i)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: client role requires at least one enabled server", ErrConfig)
	}

	if c.Forward == "" {
		return fmt.Errorf("%w: client role requires a forward address", ErrConfig)
	}
	if _, err := codec.ParseAddress(c.Forward); err != nil {
		return fmt.Errorf("%w: bad forward address %q: %v", ErrConfig, c.Forward, err)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Key == "" {
		return fmt.Errorf("%w: server role requires a non-empty key", ErrConfig)
	}
	if len(c.Presets) == 0 {
		return fmt.Errorf("%w: preset list is empty", ErrConfig)
	}

	if c.Redirect != "" {
		host, port, err := net.SplitHostPort(c.Redirect)
		if err != nil {
			return fmt.Errorf("%w: redirect must be host:port, got %q", ErrConfig, c.Redirect)
		}
		if !isValidHost(host) {
			return fmt.Errorf("%w: bad redirect host %q", ErrConfig, host)
		}
		n, err := strconv.Atoi(port)
		if err != nil || !codec.IsValidPort(n) {
			return fmt.Errorf("%w: bad redirect port %q", ErrConfig, port)
		}
	}

	return nil
}

// FirstEnabledServer returns the first enabled server of a validated
// client config
func (c *Config) FirstEnabledServer() *Server {
	for i := range c.Servers {
		if c.Servers[i].Enabled {
			return &c.Servers[i]
		}
	}
	return nil
}

// isValidHost accepts a hostname or an IP literal
func isValidHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	return codec.IsValidHostname(host)
}
