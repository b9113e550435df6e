package transport

import (
	"context"
	"net"
)

// Transport defines the interface for the carriers an obfuscated stream
// can ride on
type Transport interface {
	// Name returns the transport name
	Name() string

	// Dial connects to a remote address
	Dial(ctx context.Context, address string) (Connection, error)

	// Listen starts listening for incoming connections
	Listen(ctx context.Context, address string) (Listener, error)

	// Close closes the transport
	Close() error
}

// Connection represents an established connection
type Connection interface {
	// Read reads data from the connection
	Read(b []byte) (n int, err error)

	// Write writes data to the connection
	Write(b []byte) (n int, err error)

	// Close closes the connection
	Close() error

	// LocalAddr returns the local address
	LocalAddr() net.Addr

	// RemoteAddr returns the remote address
	RemoteAddr() net.Addr
}

// Listener represents a transport listener
type Listener interface {
	// Accept accepts incoming connections
	Accept() (Connection, error)

	// Close closes the listener
	Close() error

	// Addr returns the listener's address
	Addr() net.Addr
}

// New builds a transport by name. An empty name selects plain TCP, the
// usual carrier for shadowsocks-style traffic.
func New(name string) Transport {
	switch name {
	case "websocket", "ws":
		return NewWebSocketTransport(nil)
	case "quic":
		return NewQUICTransport(nil)
	default:
		return NewTCPTransport()
	}
}
