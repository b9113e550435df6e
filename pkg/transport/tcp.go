package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPTransport is the plain TCP carrier. The byte stream on the wire is
// whatever the preset pipeline produced; nothing is added by the
// transport itself.
type TCPTransport struct {
	dialer net.Dialer
}

// TCPListener wraps a net.Listener
type TCPListener struct {
	listener net.Listener
}

// NewTCPTransport creates a new TCP transport
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Name returns the transport name
func (t *TCPTransport) Name() string {
	return "tcp"
}

// Dial connects to a remote TCP address
func (t *TCPTransport) Dial(ctx context.Context, address string) (Connection, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}
	return conn, nil
}

// Listen starts a TCP listener
func (t *TCPTransport) Listen(ctx context.Context, address string) (Listener, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp listen failed: %w", err)
	}
	return &TCPListener{listener: listener}, nil
}

// Close closes the transport
func (t *TCPTransport) Close() error {
	return nil
}

// Accept accepts a new TCP connection
func (l *TCPListener) Accept() (Connection, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the listener
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener address
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}
